// Package docs registers the relay's OpenAPI document with swag so the
// Swagger UI can serve it. It is only linked into builds with -tags=swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/render": {
            "post": {
                "tags": ["render"],
                "summary": "Render a block",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "header", "name": "X-Relay-Timestamp", "type": "string", "required": true},
                    {"in": "header", "name": "X-Relay-Signature", "type": "string", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.RenderRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.RenderResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Payload Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/render-batch": {
            "post": {
                "tags": ["render"],
                "summary": "Render several blocks",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.BatchRenderRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.BatchRenderResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/forge/events": {
            "post": {
                "tags": ["forge"],
                "summary": "Ingest telemetry events",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ForgeEventsRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.ForgeEventsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/forge/insights": {
            "post": {
                "tags": ["forge"],
                "summary": "Telemetry insights",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "Renderer health",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.RenderRequest": {
            "type": "object",
            "properties": {"block": {"type": "string", "example": "hero"}, "props": {"type": "object"}}
        },
        "types.RenderResponse": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "html": {"type": "string"}, "error": {"type": "string"}}
        },
        "types.BatchRenderRequest": {
            "type": "object",
            "properties": {"blocks": {"type": "array", "items": {"$ref": "#/definitions/types.RenderRequest"}}}
        },
        "types.BatchResult": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "html": {"type": "string"}, "error": {"type": "string"}}
        },
        "types.BatchRenderResponse": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "results": {"type": "array", "items": {"$ref": "#/definitions/types.BatchResult"}}}
        },
        "types.ForgeEventsRequest": {
            "type": "object",
            "properties": {"events": {"type": "array", "items": {"type": "object"}}}
        },
        "types.ForgeEventsResponse": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "received": {"type": "integer"}}
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "name": {"type": "string"}, "version": {"type": "string"}, "error": {"type": "string"}}
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"ok": {"type": "boolean"}, "error": {"type": "string"}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "ssrelay API",
	Description:      "Signed server-side rendering relay with render cache and UX telemetry.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate
// ./docs after changing handler annotations.
//
// @title           ssrelay API
// @version         1.0
// @description     Signed server-side rendering relay with render cache and UX telemetry.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

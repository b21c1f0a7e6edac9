package main

// General API documentation for swaggo. Build with -tags=swagger to serve it.
//
// @title           batchd API
// @version         1.0
// @description     HTTP frontend of the batchd inference request orchestrator.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

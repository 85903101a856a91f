package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate
// the docs package.
//
// @title           litertd API
// @version         1.0
// @description     HTTP API for local model management and inference.
//
// @BasePath  /
//
// @schemes http

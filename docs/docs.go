//go:build swagger

// Package docs holds the swaggo registration for the HTTP API. Regenerate
// with `make swagger-gen` after changing handler annotations.
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
        "/v1/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "List models",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/pull": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Start a model download",
                "responses": {
                    "202": {"description": "Accepted"},
                    "404": {"description": "Not Found"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/chat/completions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "summary": "Run a chat completion",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"},
                    "429": {"description": "Too Many Requests"},
                    "502": {"description": "Bad Gateway"}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Daemon status",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "litertd API",
	Description:      "HTTP API for local model management and inference.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

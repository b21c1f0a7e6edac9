//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {"title": "{{.Title}}", "description": "{{escape .Description}}", "version": "{{.Version}}"},
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "paths": {
        "/generate": {"post": {
            "summary": "Generate tokens",
            "consumes": ["application/json"],
            "produces": ["application/json"],
            "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
            "responses": {
                "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}},
                "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
            }
        }},
        "/status": {"get": {
            "summary": "Orchestrator status",
            "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
        }}
    },
    "definitions": {
        "types.GenerateRequest": {"type": "object", "required": ["input_ids", "request_output_len"], "properties": {
            "id": {"type": "integer"},
            "input_ids": {"type": "array", "items": {"type": "integer"}},
            "request_output_len": {"type": "integer"},
            "beam_width": {"type": "integer"},
            "end_id": {"type": "integer"},
            "pad_id": {"type": "integer"},
            "temperature": {"type": "number"},
            "runtime_top_k": {"type": "integer"},
            "runtime_top_p": {"type": "number"},
            "len_penalty": {"type": "number"},
            "repetition_penalty": {"type": "number"},
            "min_length": {"type": "integer"},
            "presence_penalty": {"type": "number"},
            "random_seed": {"type": "integer"}
        }},
        "types.GenerateResponse": {"type": "object", "properties": {
            "id": {"type": "integer"},
            "output_ids": {"type": "array", "items": {"type": "integer"}},
            "state": {"type": "string"},
            "error": {"type": "string"}
        }},
        "types.ErrorResponse": {"type": "object", "properties": {
            "error": {"type": "string"},
            "code": {"type": "integer"}
        }},
        "types.StatusResponse": {"type": "object", "properties": {
            "backend": {"type": "string"},
            "state": {"type": "string"},
            "draining": {"type": "boolean"},
            "queued": {"type": "integer"},
            "active": {"type": "integer"},
            "max_num_requests": {"type": "integer"},
            "last_error": {"type": "string"}
        }}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "batchd API",
	Description:      "HTTP frontend of the batchd inference request orchestrator.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the API document and UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

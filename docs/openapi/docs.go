// Package openapi registers the InsightGate API description with swag.
package openapi

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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    },
    "security": [{"BearerAuth": []}, {"ApiKeyAuth": []}],
    "paths": {
        "/insights/categories": {
            "get": {
                "summary": "Category price insights",
                "description": "Average price per category and region over the last N weeks. Groups below the anonymity threshold are pooled or withheld.",
                "produces": ["application/json"],
                "parameters": [
                    {"name": "category", "in": "query", "type": "string", "description": "Restrict to one category"},
                    {"name": "region", "in": "query", "type": "string", "description": "Restrict to one region"},
                    {"name": "weeks", "in": "query", "type": "integer", "minimum": 1, "description": "Window length in weeks"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/InsightResponse"}},
                    "400": {"description": "Invalid parameter", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "401": {"description": "Missing or invalid credential", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "429": {"description": "Daily quota exhausted", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/insights/trends": {
            "get": {
                "summary": "Weekly price trends",
                "description": "Weekly average price for one category with week-over-week change.",
                "produces": ["application/json"],
                "parameters": [
                    {"name": "category", "in": "query", "type": "string", "required": true},
                    {"name": "region", "in": "query", "type": "string"},
                    {"name": "weeks", "in": "query", "type": "integer", "minimum": 1}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/InsightResponse"}},
                    "400": {"description": "Invalid parameter", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "401": {"description": "Missing or invalid credential", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "429": {"description": "Daily quota exhausted", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "Bucket": {
            "type": "object",
            "properties": {
                "category": {"type": "string"},
                "region": {"type": "string", "description": "Region name, \"all\" for every region, or \"other\" for the pool of regions too small to report on their own"},
                "week": {"type": "string", "format": "date"},
                "distinct_users": {"type": "integer"},
                "items": {"type": "integer"},
                "mean_price": {"type": "number"},
                "change_pct": {"type": "number"},
                "pooled": {"type": "boolean", "description": "Set when the bucket only holds groups that were below the anonymity threshold at a finer level"}
            }
        },
        "InsightResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/Bucket"}},
                "meta": {"type": "object"}
            }
        },
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "errors": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "status": {"type": "string"},
                            "code": {"type": "string"},
                            "title": {"type": "string"},
                            "detail": {"type": "string"},
                            "source": {"type": "object"}
                        }
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "InsightGate API",
	Description:      "Anonymized market price insights for B2B clients.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

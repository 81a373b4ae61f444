// Package docs registers the admin API's OpenAPI spec with gin-swagger.
// Normally generated by `swag init`; hand-maintained here since the spec
// itself is thin (a handful of admin operations) and changes rarely.
package docs

import (
	"github.com/swaggo/swag"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Vee VPN Admin API",
        "description": "Subscription and fleet administration endpoints.",
        "version": "1.0"
    },
    "basePath": "/",
    "paths": {}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Vee VPN Admin API",
	Description:      "Subscription and fleet administration endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

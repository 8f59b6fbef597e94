package openapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Param is a path or query parameter of an operation.
type Param struct {
	Name        string
	In          string // "query" or "path"
	Type        string // OpenAPI primitive: string, integer
	Required    bool
	Description string
}

// Operation describes one route for the generated document.
type Operation struct {
	Method      string
	Path        string // echo style, e.g. /scheduling/appointments/:id
	Summary     string
	Tag         string
	Roles       []string
	Params      []Param
	RequestBody string // component schema name, empty for none
	Responses   map[int]string
}

// Describer is implemented by handlers that publish their routes.
type Describer interface {
	Operations() []Operation
}

// Generator builds an OpenAPI 3.0 document from handler operation lists.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
	schemas map[string]interface{}
}

func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL, schemas: make(map[string]interface{})}
}

// Add registers every operation of d. basePath is the group prefix the
// handler is mounted under.
func (g *Generator) Add(basePath string, d Describer) {
	for _, op := range d.Operations() {
		op.Path = basePath + op.Path
		g.ops = append(g.ops, op)
	}
}

// AddSchema registers a component schema referenced by RequestBody.
func (g *Generator) AddSchema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	for _, op := range g.ops {
		path := openAPIPath(op.Path)
		if paths[path] == nil {
			paths[path] = make(map[string]interface{})
		}
		paths[path][strings.ToLower(op.Method)] = g.buildOperation(op)
	}

	schemas := map[string]interface{}{"Error": buildErrorSchema()}
	for name, s := range g.schemas {
		schemas[name] = s
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(op),
		"responses":   buildResponses(op.Responses),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}
	if len(op.Roles) > 0 {
		out["description"] = "Requires role: " + strings.Join(op.Roles, ", ")
	}
	if len(op.Params) > 0 {
		params := make([]map[string]interface{}, 0, len(op.Params))
		for _, p := range op.Params {
			typ := p.Type
			if typ == "" {
				typ = "string"
			}
			param := map[string]interface{}{
				"name":     p.Name,
				"in":       p.In,
				"required": p.Required || p.In == "path",
				"schema":   map[string]string{"type": typ},
			}
			if p.Description != "" {
				param["description"] = p.Description
			}
			params = append(params, param)
		}
		out["parameters"] = params
	}
	if op.RequestBody != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/" + op.RequestBody},
				},
			},
		}
	}
	return out
}

func buildResponses(codes map[int]string) map[string]interface{} {
	out := make(map[string]interface{}, len(codes))
	for code, desc := range codes {
		resp := map[string]interface{}{"description": desc}
		if code >= 400 {
			resp["content"] = map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/Error"},
				},
			}
		}
		out[strconv.Itoa(code)] = resp
	}
	return out
}

func buildErrorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]string{"type": "string"},
		},
	}
}

// openAPIPath converts echo's :param segments to {param}.
func openAPIPath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func operationID(op Operation) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(op.Method))
	for _, s := range strings.Split(op.Path, "/") {
		s = strings.TrimPrefix(s, ":")
		if s == "" || s == "api" || s == "v1" {
			continue
		}
		b.WriteString(strings.ToUpper(s[:1]) + s[1:])
	}
	return b.String()
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Scheduling API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes serves the document at /openapi.json and a Swagger UI at
// /docs.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	e.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}

// Package openapi describes the routes registered on an echo instance as an
// OpenAPI 3.0 document.
package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds the document lazily so it sees every route registered
// before the first request.
type Generator struct {
	e       *echo.Echo
	title   string
	version string
	prefix  string
	public  map[string]bool
}

// NewGenerator documents routes under prefix (for example "/api/v1").
func NewGenerator(e *echo.Echo, title, version, prefix string) *Generator {
	return &Generator{e: e, title: title, version: version, prefix: prefix, public: map[string]bool{}}
}

// Public marks an operation that needs no bearer token.
func (g *Generator) Public(method, path string) {
	g.public[method+" "+path] = true
}

// openAPIPath turns echo's :param segments into {param}.
func openAPIPath(path string) (string, []string) {
	segs := strings.Split(path, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

func (g *Generator) tag(path string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(path, g.prefix), "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '.' || r == '-' }) {
		s = strings.TrimPrefix(s, ":")
		if s == "" {
			continue
		}
		b.WriteString(strings.ToUpper(s[:1]) + s[1:])
	}
	return b.String()
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

// GenerateSpec produces the document as a map ready for JSON encoding.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.e.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]map[string]interface{})
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, g.prefix) || r.Method == echo.RouteNotFound {
			continue
		}
		rel := strings.TrimPrefix(r.Path, g.prefix)
		if rel == "" {
			rel = "/"
		}
		path, params := openAPIPath(rel)

		parameters := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			parameters = append(parameters, map[string]interface{}{
				"name": p, "in": "path", "required": true,
				"schema": map[string]string{"type": "string"},
			})
		}
		responses := map[string]interface{}{
			"200": map[string]interface{}{"description": "Success"},
			"400": errorResponse("Validation error"),
			"404": errorResponse("Not found"),
		}
		if r.Method == http.MethodPost {
			responses["409"] = errorResponse("Conflict or capacity exceeded")
		}

		op := map[string]interface{}{
			"operationId": operationID(r.Method, rel),
			"tags":        []string{g.tag(r.Path)},
			"parameters":  parameters,
			"responses":   responses,
		}
		if g.public[r.Method+" "+r.Path] {
			op["security"] = []interface{}{}
		} else {
			responses["401"] = errorResponse("Authentication required")
			responses["403"] = errorResponse("Not allowed")
		}

		if paths[path] == nil {
			paths[path] = make(map[string]interface{})
		}
		paths[path][strings.ToLower(r.Method)] = op
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers":  []map[string]string{{"url": g.prefix}},
		"paths":    paths,
		"security": []map[string][]string{{"bearerAuth": {}}},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"success": map[string]string{"type": "boolean"},
						"error": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"kind":    map[string]string{"type": "string"},
								"message": map[string]string{"type": "string"},
							},
						},
					},
				},
			},
		},
	}
}

// RegisterRoutes serves the document at GET /openapi.json on g.
func (g *Generator) RegisterRoutes(group *echo.Group) {
	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}

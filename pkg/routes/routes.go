// Package routes declares the API surface as nested groups of method-qualified
// routes and mounts them on a ServeMux.
package routes

import "net/http"

// Route binds an HTTP method and a pattern relative to its group to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// pattern is the ServeMux pattern of r mounted under prefix.
func (r Route) pattern(prefix string) string {
	return r.Method + " " + prefix + r.Pattern
}

// Group nests routes and child groups under a shared prefix. A child's prefix
// is appended to its parent's, so supplier-scoped resources share one
// "/suppliers/{supplier_id}/..." root.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// walk visits every route of g depth-first in declaration order.
func (g Group) walk(parent string, visit func(prefix string, r Route)) {
	prefix := parent + g.Prefix
	for _, r := range g.Routes {
		visit(prefix, r)
	}
	for _, c := range g.Children {
		c.walk(prefix, visit)
	}
}

// Register mounts every route in groups on mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, g := range groups {
		g.walk("", func(prefix string, r Route) {
			mux.HandleFunc(r.pattern(prefix), r.Handler)
		})
	}
}

// Patterns lists the patterns Register would mount, in declaration order.
func Patterns(groups ...Group) []string {
	var out []string
	for _, g := range groups {
		g.walk("", func(prefix string, r Route) {
			out = append(out, r.pattern(prefix))
		})
	}
	return out
}

// Package server contains the small HTTP plumbing shared by the mount's
// web surfaces: typed JSON payloads, goji route tables, and the HTTPer
// interface route-table owners satisfy.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"

	"goji.io"
	"goji.io/pat"
)

// HumanPayload is a struct that holds the basic types of payload used in
// replies to clients.  Exactly one field besides T is populated, selected
// by T.
type HumanPayload struct {
	// T holds the type of data actually contained in the payload
	T types.BasicKind

	// Float holds a float64 (T == types.Float64)
	Float float64

	// Int holds an int (T == types.Int)
	Int int

	// Bool holds a bool (T == types.Bool)
	Bool bool

	// String holds a string (T == types.String)
	String string
}

// EncodeAndRespond writes the payload to w as the single-key JSON
// document clients expect: {"f64": v}, {"int": v}, {"bool": v} or
// {"str": v}.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var (
		obj interface{}
		err error
	)
	switch hp.T {
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case types.String:
		obj = StrT{Str: hp.String}
	default:
		err = fmt.Errorf("unsupported payload kind %v", hp.T)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Printf("encoding payload: %v", err)
	}
}

// FloatT is a struct with a single field F64 for json (un)marshaling.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single field Int for json (un)marshaling.
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single field Str for json (un)marshaling.
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single field Bool for json (un)marshaling.
type BoolT struct {
	Bool bool `json:"bool"`
}

// RouteTable maps goji patterns to handler funcs.
type RouteTable map[goji.Pattern]http.HandlerFunc

// Endpoints lists the route strings in the table, sorted.
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		if p, ok := k.(*pat.Pattern); ok {
			routes = append(routes, p.String())
			continue
		}
		routes = append(routes, fmt.Sprint(k))
	}
	sort.Strings(routes)
	return routes
}

// Bind attaches every route in the table to the mux, plus an
// "/endpoints" route that returns the list of routes as JSON.
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.HandleFunc(p, h)
	}
	mux.HandleFunc(pat.Get("/endpoints"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// HTTPer is an object that has a route table to expose over HTTP.
type HTTPer interface {
	// RT yields the route table so callers can bind or extend it
	RT() RouteTable
}

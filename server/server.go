// Package server contains misc server utilities: a route table bound to chi
// routers and the small JSON payloads the HTTP interfaces exchange.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is an HTTP method and a route
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method/path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path == keys[j].Path {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	routes := make([]string, len(keys))
	for i, k := range keys {
		routes[i] = k.Method + " " + k.Path
	}
	return routes
}

// Bind registers every route of the table on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
}

// HTTPer is a type which has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize turns "omc/stave" or "/omc/stave/" into "/omc/stave", the
// form chi expects when mounting a router
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	if str == "" {
		return "/"
	}
	return "/" + str
}

// FloatT is a struct with a single float64 field, F64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, Int
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, Str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, Bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatsT is a struct with a single []float64 field, F64s
type FloatsT struct {
	F64s []float64 `json:"f64s"`
}

// HumanPayload holds one value of a basic kind, T says which field is used
type HumanPayload struct {
	T types.BasicKind

	Float  float64
	Floats []float64
	Int    int
	String string
	Bool   bool
}

func (hp HumanPayload) value() (interface{}, error) {
	switch hp.T {
	case types.Float64:
		return FloatT{hp.Float}, nil
	case types.Int:
		return IntT{hp.Int}, nil
	case types.String:
		return StrT{hp.String}, nil
	case types.Bool:
		return BoolT{hp.Bool}, nil
	case types.Invalid:
		// the zero kind carries the slice
		return FloatsT{hp.Floats}, nil
	}
	return nil, fmt.Errorf("human payload of kind %d not supported", hp.T)
}

// EncodeAndRespond encodes the payload as JSON, {"f64": value} and so on,
// and writes it to w.  Clients asking for text/plain get the bare value
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	v, err := hp.value()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		switch t := v.(type) {
		case FloatT:
			fmt.Fprintln(w, t.F64)
		case IntT:
			fmt.Fprintln(w, t.Int)
		case StrT:
			fmt.Fprintln(w, t.Str)
		case BoolT:
			fmt.Fprintln(w, t.Bool)
		case FloatsT:
			fmt.Fprintln(w, t.F64s)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding %T to json %q\n", v, err)
	}
}

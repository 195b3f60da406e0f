package session

import (
	"net/http"
	"sort"
)

// CookieView is read-only access to the cookies of the current request.
type CookieView interface {
	Get(name string) (string, bool)
	All() []*http.Cookie
}

// CookieJar reads and writes cookies. Writes reach the response as
// Set-Cookie headers and are visible to later reads through the same jar.
type CookieJar interface {
	CookieView
	Set(c *http.Cookie)
	Delete(name string)
}

type cookieSet map[string]string

func fromRequest(r *http.Request) cookieSet {
	set := cookieSet{}
	for _, c := range r.Cookies() {
		set[c.Name] = c.Value
	}
	return set
}

func (s cookieSet) Get(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

func (s cookieSet) All() []*http.Cookie {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*http.Cookie, 0, len(names))
	for _, n := range names {
		out = append(out, &http.Cookie{Name: n, Value: s[n]})
	}
	return out
}

// NewRequestView snapshots the request cookies.
func NewRequestView(r *http.Request) CookieView {
	return fromRequest(r)
}

// ResponseJar is the read/write jar for one request/response pair.
type ResponseJar struct {
	w   http.ResponseWriter
	set cookieSet
}

func NewResponseJar(w http.ResponseWriter, r *http.Request) *ResponseJar {
	return &ResponseJar{w: w, set: fromRequest(r)}
}

func (j *ResponseJar) Get(name string) (string, bool) { return j.set.Get(name) }

func (j *ResponseJar) All() []*http.Cookie { return j.set.All() }

func (j *ResponseJar) Set(c *http.Cookie) {
	if c.MaxAge < 0 {
		delete(j.set, c.Name)
	} else {
		j.set[c.Name] = c.Value
	}
	http.SetCookie(j.w, c)
}

func (j *ResponseJar) Delete(name string) {
	if _, ok := j.set[name]; !ok {
		return
	}
	j.Set(&http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}

// View returns a read-only snapshot of the jar's current state.
func (j *ResponseJar) View() CookieView {
	snap := make(cookieSet, len(j.set))
	for k, v := range j.set {
		snap[k] = v
	}
	return snap
}

// Request returns a shallow copy of r whose Cookie header matches the jar,
// so handlers further down the chain see refreshed values.
func (j *ResponseJar) Request(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.Header.Del("Cookie")
	for _, c := range j.set.All() {
		out.AddCookie(c)
	}
	return out
}

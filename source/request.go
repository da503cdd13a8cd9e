package source

import "github.com/chengcxy/docshift/job"

// NewRequest builds the request that invokes m with vars. Inline modules go as a query.
func NewRequest(m *job.Module, vars map[string]string) *Request {
	req := &Request{Language: m.Language, Variables: make(map[string]string, len(vars))}
	for k, v := range vars {
		req.Variables[k] = v
	}
	if m.IsInline() {
		req.Query = m.Inline
	} else {
		req.ModuleURI = m.URI
	}
	return req
}

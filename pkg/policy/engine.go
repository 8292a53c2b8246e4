// Package policy evaluates deployment-specific Rego rules against access
// point certificates. An Engine's Check method plugs into
// security.TrustContext as the extra check run after the built-in ones.
package policy

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/sirosfoundation/go-ehf/pkg/security"
)

// DefaultQuery is evaluated when no query is configured
const DefaultQuery = "data.ehf.trust.allow"

var (
	// ErrDenied is returned when the policy does not allow the certificate
	ErrDenied = errors.New("certificate denied by policy")
	// ErrUndefined is returned when the query has no boolean result
	ErrUndefined = errors.New("policy decision is undefined")
)

// builtins that reach outside the evaluation and are rejected at load time
var forbiddenBuiltins = map[string]struct{}{
	"http.send":          {},
	"net.lookup_ip_addr": {},
	"opa.runtime":        {},
}

// Engine holds a prepared query
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine loads the Rego files or bundle directory at path
func NewEngine(ctx context.Context, path, query string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("policy path is required")
	}
	return prepare(ctx, query, rego.Load([]string{path}, nil))
}

// NewEngineFromModule compiles a single Rego module
func NewEngineFromModule(ctx context.Context, name, module, query string) (*Engine, error) {
	return prepare(ctx, query, rego.Module(name, module))
}

func prepare(ctx context.Context, query string, source func(*rego.Rego)) (*Engine, error) {
	if query == "" {
		query = DefaultQuery
	}
	compiler := ast.NewCompiler()
	r := rego.New(
		rego.Query(query),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

// Input is the document a policy sees as input
type Input struct {
	Subject    string   `json:"subject"`
	Issuer     string   `json:"issuer"`
	SimpleName string   `json:"simple_name"`
	Serial     string   `json:"serial"`
	Thumbprint string   `json:"thumbprint"`
	NotBefore  string   `json:"not_before"`
	NotAfter   string   `json:"not_after"`
	DNSNames   []string `json:"dns_names"`
	// Chain holds the thumbprints of the verified chain, starting with the certificate
	Chain []string `json:"chain"`
}

// NewInput describes cert and its verified chain
func NewInput(cert *x509.Certificate, chain []*x509.Certificate) Input {
	in := Input{
		Subject:    cert.Subject.String(),
		Issuer:     cert.Issuer.String(),
		SimpleName: security.SimpleName(cert),
		Serial:     cert.SerialNumber.String(),
		Thumbprint: security.Thumbprint(cert),
		NotBefore:  cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:   cert.NotAfter.UTC().Format(time.RFC3339),
		DNSNames:   append([]string{}, cert.DNSNames...),
		Chain:      make([]string, 0, len(chain)),
	}
	for _, c := range chain {
		in.Chain = append(in.Chain, security.Thumbprint(c))
	}
	return in
}

// Allow evaluates the query for in. The decision must be boolean.
func (e *Engine) Allow(ctx context.Context, in Input) (bool, error) {
	if e == nil {
		return false, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, ErrUndefined
	}
	allow, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrUndefined, results[0].Expressions[0].Value)
	}
	return allow, nil
}

// Check satisfies security.CertificateCheck
func (e *Engine) Check(ctx context.Context, cert *x509.Certificate, chain []*x509.Certificate) error {
	if cert == nil {
		return security.ErrNoCertificate
	}
	allow, err := e.Allow(ctx, NewInput(cert, chain))
	if err != nil {
		return err
	}
	if !allow {
		return fmt.Errorf("%w: %s", ErrDenied, security.SimpleName(cert))
	}
	return nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	forbidden := make(map[string]struct{})
	record := func(name string) {
		if _, ok := forbiddenBuiltins[name]; ok {
			forbidden[name] = struct{}{}
		}
	}
	for _, module := range compiler.Modules {
		// compiled modules hold calls as expressions, unless nested in a term
		ast.WalkExprs(module, func(expr *ast.Expr) bool {
			if expr.IsCall() {
				record(expr.Operator().String())
			}
			return false
		})
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			record(call[0].Value.String())
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}

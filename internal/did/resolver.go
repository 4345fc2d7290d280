// Package did resolves did:ap2:<role>:<name> identifiers to DID documents
// and public keys. Resolution order: in-process cache, local registry
// seeded from disk, HTTP .well-known fallback via a service-name map.
package did

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"

	"github.com/rs/zerolog"
)

// Document is a DID document listing verification methods.
type Document struct {
	Context            []string             `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []ServiceEndpoint    `json:"service,omitempty"`
}

// VerificationMethod carries one public key of a DID.
type VerificationMethod struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Controller   string `json:"controller,omitempty"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// ServiceEndpoint advertises where the DID subject can be reached.
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Parse splits did:ap2:<role>:<name>.
func Parse(did string) (role string, name string, err error) {
	parts := strings.Split(did, ":")
	if len(parts) != 4 || parts[0] != "did" || parts[1] != "ap2" || parts[2] == "" || parts[3] == "" {
		return "", "", apperror.Validation(fmt.Sprintf("malformed DID %q", did))
	}
	return parts[2], parts[3], nil
}

// Resolver maps DIDs to documents and public keys.
type Resolver struct {
	mu       sync.RWMutex
	cache    map[string]*Document
	dir      string            // local registry: <dir>/<name>_did.json
	services map[string]string // role or name -> base URL for .well-known
	client   *http.Client
	log      zerolog.Logger
}

// NewResolver creates a resolver. dir is the DID document registry
// directory; services maps role/service names to base URLs for the HTTP
// fallback.
func NewResolver(dir string, services map[string]string, log zerolog.Logger) *Resolver {
	return &Resolver{
		cache:    make(map[string]*Document),
		dir:      dir,
		services: services,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// Register inserts a document into the in-process cache, used at startup
// for the service's own identity.
func (r *Resolver) Register(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[doc.ID] = doc
}

// Resolve returns the document for a DID, or a KeyNotFound error.
func (r *Resolver) Resolve(ctx context.Context, didStr string) (*Document, error) {
	role, name, err := Parse(didStr)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	doc, ok := r.cache[didStr]
	r.mu.RUnlock()
	if ok {
		return doc, nil
	}

	if doc := r.loadLocal(name); doc != nil && doc.ID == didStr {
		r.Register(doc)
		return doc, nil
	}

	if doc := r.fetchWellKnown(ctx, role, name); doc != nil && doc.ID == didStr {
		r.Register(doc)
		return doc, nil
	}

	return nil, apperror.ErrKeyNotFound(didStr)
}

// ResolvePublicKey resolves a did#fragment key id and returns the public
// key of the verification method whose id ends with the fragment.
func (r *Resolver) ResolvePublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	didStr, fragment, found := strings.Cut(kid, "#")
	if !found {
		return nil, apperror.Validation(fmt.Sprintf("key id %q has no fragment", kid))
	}
	doc, err := r.Resolve(ctx, didStr)
	if err != nil {
		return nil, err
	}
	for _, vm := range doc.VerificationMethod {
		if strings.HasSuffix(vm.ID, "#"+fragment) {
			return crypto.ParsePublicKeyPEM(vm.PublicKeyPem)
		}
	}
	return nil, apperror.ErrKeyNotFound(kid)
}

func (r *Resolver) loadLocal(name string) *Document {
	if r.dir == "" {
		return nil
	}
	path := filepath.Join(r.dir, name+"_did.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("malformed DID document in registry")
		return nil
	}
	return &doc
}

// fetchWellKnown tries the service's /.well-known/did.json. Failures are
// swallowed; the caller surfaces KeyNotFound.
func (r *Resolver) fetchWellKnown(ctx context.Context, role string, name string) *Document {
	base := r.services[name]
	if base == "" {
		base = r.services[role]
	}
	if base == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/.well-known/did.json", nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("base", base).Msg("well-known DID fetch failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil
	}
	return &doc
}

// DocumentForKey builds the DID document advertising a service's signing
// key, written to the registry at startup and served at /.well-known/did.json.
func DocumentForKey(didStr string, alg crypto.Algorithm, pub crypto.PublicKey, endpoint string) (*Document, error) {
	pemStr, err := crypto.PublicKeyPEM(pub)
	if err != nil {
		return nil, err
	}
	vmType := "JsonWebKey2020"
	if alg == crypto.AlgEdDSA {
		vmType = "Ed25519VerificationKey2020"
	}
	doc := &Document{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      didStr,
		VerificationMethod: []VerificationMethod{{
			ID:           didStr + alg.KeyFragment(),
			Type:         vmType,
			Controller:   didStr,
			PublicKeyPem: pemStr,
		}},
	}
	if endpoint != "" {
		doc.Service = []ServiceEndpoint{{
			ID:              didStr + "#a2a",
			Type:            "A2AEndpoint",
			ServiceEndpoint: endpoint,
		}}
	}
	return doc, nil
}

// WriteDocument persists a document into the registry directory.
func WriteDocument(dir string, doc *Document) error {
	_, name, err := Parse(doc.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.InternalError(err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+"_did.json"), data, 0o644); err != nil {
		return apperror.InternalError(err)
	}
	return nil
}

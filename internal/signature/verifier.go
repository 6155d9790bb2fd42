/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package signature authenticates inbound payment notifications.
//
// The processor computes an HMAC-SHA256 over (notification URL + exact bytes
// sent). By the time the transport layer has parsed and re-serialized the
// body, those exact bytes may no longer be recoverable: whitespace, key
// order, and escaping can all differ. The verifier therefore evaluates a
// declarative cross-product of plausible body reconstructions and plausible
// notification URLs, accepting when any combination matches. Do not narrow
// this to a single guess without confirming the transport preserves raw
// bytes end to end.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// bodyTransform produces one plausible reconstruction of the sent bytes.
// A nil result means the transform does not apply to this body.
type bodyTransform struct {
	name  string
	apply func(raw []byte) []byte
}

// bodyTransforms are tried in order of likelihood. The raw bytes come first:
// when the transport preserves them, the first combination matches.
var bodyTransforms = []bodyTransform{
	{name: "raw", apply: func(raw []byte) []byte { return raw }},
	{name: "compact", apply: compactJSON},
	{name: "canonical", apply: canonicalJSON},
	{name: "remarshal_escaped", apply: remarshalEscapedJSON},
}

type Verifier struct {
	key           []byte
	configuredURL string
}

func NewVerifier(key, configuredURL string) *Verifier {
	return &Verifier{key: []byte(key), configuredURL: configuredURL}
}

// Configured reports whether a shared secret is present. When it is not, the
// endpoint must refuse all traffic outright rather than silently accepting
// unauthenticated events.
func (v *Verifier) Configured() bool {
	return len(v.key) > 0
}

// Verify reports whether any (body transform, URL candidate) combination
// reproduces the received signature. It never returns an error: false is a
// hard rejection for every event type, with no bypass.
func (v *Verifier) Verify(rawBody []byte, receivedSignature string, candidateURLs []string) bool {
	if !v.Configured() || receivedSignature == "" {
		return false
	}

	received := normalizeSignature(receivedSignature)

	for _, url := range v.expandURLs(candidateURLs) {
		for _, transform := range bodyTransforms {
			body := transform.apply(rawBody)
			if body == nil {
				continue
			}
			computed := v.compute(url, body)
			if subtle.ConstantTimeCompare([]byte(computed), []byte(received)) == 1 {
				zap.L().Debug("Signature verified",
					zap.String("body_transform", transform.name),
					zap.String("url", url))
				return true
			}
		}
	}

	return false
}

func (v *Verifier) compute(url string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// expandURLs builds the candidate URL set: the configured production URL,
// every caller-supplied candidate, and each of those with the www. host
// prefix toggled. Order is preserved, duplicates dropped.
func (v *Verifier) expandURLs(candidateURLs []string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		out = append(out, url)
	}

	base := make([]string, 0, len(candidateURLs)+1)
	if v.configuredURL != "" {
		base = append(base, v.configuredURL)
	}
	base = append(base, candidateURLs...)

	for _, url := range base {
		add(url)
		add(toggleWWW(url))
	}
	return out
}

func toggleWWW(url string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(url, scheme) {
			host := url[len(scheme):]
			if strings.HasPrefix(host, "www.") {
				return scheme + host[len("www."):]
			}
			return scheme + "www." + host
		}
	}
	return ""
}

// normalizeSignature strips an optional algorithm tag ("sha256=<b64>").
func normalizeSignature(sig string) string {
	sig = strings.TrimSpace(sig)
	if idx := strings.IndexByte(sig, '='); idx > 0 {
		prefix := strings.ToLower(sig[:idx])
		if prefix == "sha256" || prefix == "hmac-sha256" {
			return sig[idx+1:]
		}
	}
	return sig
}

// compactJSON strips insignificant whitespace, preserving key order.
func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	if bytes.Equal(buf.Bytes(), raw) {
		return nil // identical to the raw variant, skip
	}
	return buf.Bytes()
}

// canonicalJSON re-marshals with keys sorted lexicographically and no
// extraneous whitespace, without HTML escaping.
func canonicalJSON(raw []byte) []byte {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(decoded); err != nil {
		return nil
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// remarshalEscapedJSON is the secondary non-canonical guess: the standard
// library encoder with its default HTML escaping of &, <, and >.
func remarshalEscapedJSON(raw []byte) []byte {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return nil
	}
	return out
}

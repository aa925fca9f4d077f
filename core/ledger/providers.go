/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

// FoldProviders replays payloads in order and returns the resulting
// provider set. An add-provider entry is appended unless the same
// (name, ip) pair is already present; a remove-provider entry drops every
// provider with a matching ip. The result keeps insertion order.
func FoldProviders(payloads []*BlockData) []Provider {
	providers := []Provider{}
	for _, p := range payloads {
		switch p.Action {
		case ActionAddProvider:
			candidate := Provider{Name: p.Fields[FieldName], IP: p.Fields[FieldIP]}
			if !containsProvider(providers, candidate) {
				providers = append(providers, candidate)
			}
		case ActionRemoveProvider:
			ip := p.Fields[FieldIP]
			kept := providers[:0]
			for _, existing := range providers {
				if existing.IP != ip {
					kept = append(kept, existing)
				}
			}
			providers = kept
		}
	}
	return providers
}

func containsProvider(providers []Provider, candidate Provider) bool {
	for _, p := range providers {
		if p == candidate {
			return true
		}
	}
	return false
}

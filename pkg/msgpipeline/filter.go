package msgpipeline

import (
	"strings"
	"sync"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
	"github.com/google/uuid"
)

// filterSet holds the active global and per-account filters. A message must
// satisfy every global filter and every filter scoped to its account.
type filterSet struct {
	mu        sync.RWMutex
	global    []domainMessage.Filter
	byAccount map[string][]domainMessage.Filter
}

func newFilterSet() *filterSet {
	return &filterSet{byAccount: make(map[string][]domainMessage.Filter)}
}

func (fs *filterSet) AddGlobal(f domainMessage.Filter) domainMessage.Filter {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.AccountID = ""
	fs.mu.Lock()
	fs.global = append(fs.global, f)
	fs.mu.Unlock()
	return f
}

func (fs *filterSet) RemoveGlobal(id string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i, f := range fs.global {
		if f.ID == id {
			fs.global = append(fs.global[:i], fs.global[i+1:]...)
			return true
		}
	}
	return false
}

func (fs *filterSet) AddAccount(accountID string, f domainMessage.Filter) domainMessage.Filter {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.AccountID = accountID
	fs.mu.Lock()
	fs.byAccount[accountID] = append(fs.byAccount[accountID], f)
	fs.mu.Unlock()
	return f
}

func (fs *filterSet) RemoveAccount(accountID, id string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	filters := fs.byAccount[accountID]
	for i, f := range filters {
		if f.ID == id {
			fs.byAccount[accountID] = append(filters[:i], filters[i+1:]...)
			if len(fs.byAccount[accountID]) == 0 {
				delete(fs.byAccount, accountID)
			}
			return true
		}
	}
	return false
}

func (fs *filterSet) List() []domainMessage.Filter {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]domainMessage.Filter, 0, len(fs.global))
	out = append(out, fs.global...)
	for _, filters := range fs.byAccount {
		out = append(out, filters...)
	}
	return out
}

// Pass reports whether the envelope satisfies all applicable filters.
func (fs *filterSet) Pass(e domainMessage.Envelope) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, f := range fs.global {
		if !matches(f, e) {
			return false
		}
	}
	for _, f := range fs.byAccount[e.AccountID] {
		if !matches(f, e) {
			return false
		}
	}
	return true
}

func matches(f domainMessage.Filter, e domainMessage.Envelope) bool {
	if f.From != "" && f.From != e.From {
		return false
	}
	if f.MessageType != "" && f.MessageType != e.Type {
		return false
	}
	if f.ContainsText != "" && !strings.Contains(e.Body, f.ContainsText) {
		return false
	}
	if f.ExcludeGroups && e.IsGroup {
		return false
	}
	if f.ExcludeSelf && e.IsSelf {
		return false
	}
	return true
}

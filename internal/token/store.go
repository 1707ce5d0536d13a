// Package token manages the authentication material for both marketplaces:
// the Buff cookie jar and the YouPin device identity. The whole store is one
// JSON file rewritten atomically on every update, so operators can rotate
// tokens through the HTTP API without restarting anything — clients read a
// fresh snapshot from here on every request.
package token

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skindiff/internal/domain"
)

// StatusConfigured and StatusUnconfigured are the two lifecycle states a
// credential record moves through.
const (
	StatusConfigured   = "configured"
	StatusUnconfigured = "unconfigured"
)

// BuffRecord holds the Buff session material. Authentication is entirely
// cookie-based; headers are sent verbatim on every catalogue request.
type BuffRecord struct {
	Cookies     map[string]string `json:"cookies"`
	Headers     map[string]string `json:"headers"`
	LastUpdated *time.Time        `json:"last_updated"`
	Status      string            `json:"status"`
}

// YoupinRecord holds the YouPin device identity. The named fields are also
// mirrored into Headers so a request needs no assembly beyond reading them.
type YoupinRecord struct {
	DeviceID      string            `json:"device_id"`
	DeviceUK      string            `json:"device_uk"`
	UK            string            `json:"uk"`
	B3            string            `json:"b3"`
	Authorization string            `json:"authorization"`
	Headers       map[string]string `json:"headers"`
	LastUpdated   *time.Time        `json:"last_updated"`
	Status        string            `json:"status"`
}

// fileState is the on-disk shape: a single top-level object with one record
// per marketplace.
type fileState struct {
	Buff   BuffRecord   `json:"buff"`
	Youpin YoupinRecord `json:"youpin"`
}

// Store owns the two credential records and their backing file. Reads are
// snapshot copies and never touch the disk; writes are serialized and only
// become visible after the file rename succeeds.
type Store struct {
	mu    sync.RWMutex
	path  string
	state fileState
}

// Open loads the store from path, creating it with defaults on first boot.
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: defaultState()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("token: decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := s.persist(s.state); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("token: read %s: %w", path, err)
	}

	return s, nil
}

// Buff returns a snapshot of the Buff record. Maps are copied so callers can
// hold them across requests without racing updates.
func (s *Store) Buff() BuffRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.state.Buff
	r.Cookies = copyMap(r.Cookies)
	r.Headers = copyMap(r.Headers)
	return r
}

// Youpin returns a snapshot of the YouPin record.
func (s *Store) Youpin() YoupinRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.state.Youpin
	r.Headers = copyMap(r.Headers)
	return r
}

// UpdateBuff merges cookies (and optionally headers) into the Buff record,
// stamps it, and persists the store. The session and csrf_token cookies must
// end up non-empty. The live record is untouched when persistence fails.
func (s *Store) UpdateBuff(cookies, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.Buff.Cookies = mergedMap(next.Buff.Cookies, cookies)
	next.Buff.Headers = mergedMap(next.Buff.Headers, headers)

	if next.Buff.Cookies["session"] == "" || next.Buff.Cookies["csrf_token"] == "" {
		return fmt.Errorf("%w: buff requires non-empty session and csrf_token cookies", domain.ErrValidation)
	}

	now := time.Now().UTC()
	next.Buff.LastUpdated = &now
	next.Buff.Status = StatusConfigured

	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// YoupinFields is the set of named YouPin credential fields accepted by
// UpdateYoupin. Empty strings leave the stored value unchanged.
type YoupinFields struct {
	DeviceID      string `json:"device_id"`
	DeviceUK      string `json:"device_uk"`
	UK            string `json:"uk"`
	B3            string `json:"b3"`
	Authorization string `json:"authorization"`
}

// UpdateYoupin merges the named fields (and optionally headers) into the
// YouPin record, mirrors them into the header map, stamps the record, and
// persists the store. device_id, uk, and authorization must end up
// non-empty. The live record is untouched when persistence fails.
func (s *Store) UpdateYoupin(fields YoupinFields, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.Youpin.Headers = mergedMap(next.Youpin.Headers, headers)

	if fields.DeviceID != "" {
		next.Youpin.DeviceID = fields.DeviceID
		next.Youpin.Headers["deviceid"] = fields.DeviceID
	}
	if fields.DeviceUK != "" {
		next.Youpin.DeviceUK = fields.DeviceUK
		next.Youpin.Headers["deviceuk"] = fields.DeviceUK
	}
	if fields.UK != "" {
		next.Youpin.UK = fields.UK
		next.Youpin.Headers["uk"] = fields.UK
	}
	if fields.B3 != "" {
		next.Youpin.B3 = fields.B3
		next.Youpin.Headers["b3"] = fields.B3
		if tp := TraceParentFromB3(fields.B3); tp != "" {
			next.Youpin.Headers["traceparent"] = tp
		}
	}
	if fields.Authorization != "" {
		next.Youpin.Authorization = fields.Authorization
		next.Youpin.Headers["authorization"] = fields.Authorization
	}

	if next.Youpin.DeviceID == "" || next.Youpin.UK == "" || next.Youpin.Authorization == "" {
		return fmt.Errorf("%w: youpin requires non-empty device_id, uk, and authorization", domain.ErrValidation)
	}

	now := time.Now().UTC()
	next.Youpin.LastUpdated = &now
	next.Youpin.Status = StatusConfigured

	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// MarketStatus summarizes one marketplace's credential state for the status
// endpoint. Fields reports which named credentials are populated without
// exposing their values.
type MarketStatus struct {
	Status      string          `json:"status"`
	LastUpdated *time.Time      `json:"last_updated"`
	Fields      map[string]bool `json:"fields"`
}

// Status reports both marketplaces' credential state.
func (s *Store) Status() map[domain.Marketplace]MarketStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[domain.Marketplace]MarketStatus{
		domain.MarketplaceBuff: {
			Status:      s.state.Buff.Status,
			LastUpdated: s.state.Buff.LastUpdated,
			Fields: map[string]bool{
				"session":    s.state.Buff.Cookies["session"] != "",
				"csrf_token": s.state.Buff.Cookies["csrf_token"] != "",
			},
		},
		domain.MarketplaceYoupin: {
			Status:      s.state.Youpin.Status,
			LastUpdated: s.state.Youpin.LastUpdated,
			Fields: map[string]bool{
				"device_id":     s.state.Youpin.DeviceID != "",
				"device_uk":     s.state.Youpin.DeviceUK != "",
				"uk":            s.state.Youpin.UK != "",
				"b3":            s.state.Youpin.B3 != "",
				"authorization": s.state.Youpin.Authorization != "",
			},
		},
	}
}

// TraceParentFromB3 derives a W3C traceparent header from a B3 trace string
// ("<trace>-<span>-..."). Returns "" when b3 has no span segment.
func TraceParentFromB3(b3 string) string {
	var trace, span string
	for i := 0; i < len(b3); i++ {
		if b3[i] == '-' {
			trace = b3[:i]
			rest := b3[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '-' {
					rest = rest[:j]
					break
				}
			}
			span = rest
			break
		}
	}
	if trace == "" || span == "" {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-01", trace, span)
}

// persist writes state to a temp file in the target directory and renames
// it over the store file.
func (s *Store) persist(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode token store: %v", domain.ErrPersist, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrPersist, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", domain.ErrPersist, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write token store: %v", domain.ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close token store: %v", domain.ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename token store: %v", domain.ErrPersist, err)
	}
	return nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergedMap(base, overlay map[string]string) map[string]string {
	out := copyMap(base)
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// defaultState returns the first-boot store: empty credentials plus the
// browser-shaped headers both upstreams expect.
func defaultState() fileState {
	return fileState{
		Buff: BuffRecord{
			Cookies: map[string]string{
				"Locale-Supported": "zh-Hans",
				"game":             "csgo",
				"session":          "",
				"csrf_token":       "",
			},
			Headers: map[string]string{
				"Accept":           "application/json, text/javascript, */*; q=0.01",
				"Accept-Language":  "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7",
				"Connection":       "keep-alive",
				"Referer":          "https://buff.163.com/market/csgo",
				"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
				"X-Requested-With": "XMLHttpRequest",
			},
			Status: StatusUnconfigured,
		},
		Youpin: YoupinRecord{
			Headers: map[string]string{
				"accept":          "application/json, text/plain, */*",
				"accept-language": "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7",
				"app-version":     "6.12.0",
				"apptype":         "1",
				"appversion":      "6.12.0",
				"content-type":    "application/json",
				"origin":          "https://www.youpin898.com",
				"platform":        "pc",
				"referer":         "https://www.youpin898.com/",
				"secret-v":        "h5_v1",
				"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
			},
			Status: StatusUnconfigured,
		},
	}
}

package knowledge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/magpieflow/magpie/internal/store"
)

// CommonDomain is the shared partition every document is mirrored into.
// It always exists and cannot be deactivated.
const CommonDomain = "common"

// Match is one detected domain for a query, ranked by how many of the
// domain's terms the query contains and by how specific those terms were.
type Match struct {
	Name        string
	Matches     int
	Specificity int
}

// Detect returns the active domains whose terms appear in the query,
// strongest first. A domain's own name always counts as a term. An empty
// result means no domain claimed the query; callers treat that as "search
// everything".
func (s *Service) Detect(query string) ([]Match, error) {
	text := strings.ToLower(query)
	domains, err := s.store.ListDomains()
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, d := range domains {
		if !d.Active || d.Name == CommonDomain {
			continue
		}
		terms := append([]string{}, d.Keywords...)
		terms = append(terms, d.Name)

		count, length := 0, 0
		seen := make(map[string]bool)
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			if strings.Contains(text, t) {
				count++
				length += utf8.RuneCountInString(t)
			}
		}
		if count > 0 {
			out = append(out, Match{Name: d.Name, Matches: count, Specificity: length})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		if out[i].Specificity != out[j].Specificity {
			return out[i].Specificity > out[j].Specificity
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// EnsureDomain creates the named domain if it does not exist and returns
// it. Names are lowercased. Keywords apply only on first creation; an
// existing domain is returned unchanged.
func (s *Service) EnsureDomain(name string, keywords ...string) (*store.Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("domain name is required")
	}

	existing, err := s.store.GetDomain(name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	d := &store.Domain{
		Name:     name,
		Keywords: cleanKeywords(keywords),
		Active:   true,
	}
	if len(d.Keywords) == 0 {
		d.Keywords = []string{name}
	}
	if err := s.store.PutDomain(d); err != nil {
		return nil, err
	}
	s.logger.Info("created domain", "name", name, "keywords", d.Keywords)
	return d, nil
}

// DeactivateDomain excludes a domain from detection. Its documents stay in
// the store and in the common collection.
func (s *Service) DeactivateDomain(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == CommonDomain {
		return fmt.Errorf("the %s domain cannot be deactivated", CommonDomain)
	}
	d, err := s.store.GetDomain(name)
	if err != nil {
		return err
	}
	d.Active = false
	return s.store.PutDomain(d)
}

// ensureCommonDomain creates the common domain on first use.
func (s *Service) ensureCommonDomain() error {
	_, err := s.store.GetDomain(CommonDomain)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	d := &store.Domain{
		Name:        CommonDomain,
		Description: "Shared documents included in every search",
		Keywords:    []string{"common", "general"},
		Active:      true,
	}
	if putErr := s.store.PutDomain(d); putErr != nil {
		return fmt.Errorf("creating common domain: %w", putErr)
	}
	s.logger.Debug("created common domain")
	return nil
}

func cleanKeywords(keywords []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

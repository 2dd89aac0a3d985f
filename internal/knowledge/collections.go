package knowledge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Vector collection names must be 3-63 characters, start and end with an
// alphanumeric character, and contain only alphanumerics, underscores, and
// hyphens. Domain names can be anything, so they are slugged first and, when
// the slug alone cannot satisfy the rules, suffixed with a hash of the
// original name. The mapping is deterministic: the same domain always lands
// in the same collection.

const collectionPrefix = "collection_"

// maxSlugRunes keeps prefix+slug within the 63-character ceiling.
const maxSlugRunes = 63 - len(collectionPrefix)

var slugStrip = regexp.MustCompile(`[^a-z0-9_-]+`)
var slugSqueeze = regexp.MustCompile(`_+`)

func collectionName(domain string) string {
	slug := strings.ToLower(strings.TrimSpace(domain))
	slug = strings.ReplaceAll(slug, " ", "_")
	slug = slugStrip.ReplaceAllString(slug, "_")
	slug = slugSqueeze.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_-")

	if len(slug) < 3 || len(slug) > maxSlugRunes {
		h := fmt.Sprintf("%08x", xxhash.Sum64String(domain))
		if len(slug) > maxSlugRunes-9 {
			slug = strings.Trim(slug[:maxSlugRunes-9], "_-")
		}
		if slug == "" {
			slug = h
		} else {
			slug = slug + "_" + h
		}
	}
	return collectionPrefix + slug
}

package extraction

import (
	"strings"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// processImages upgrades image URLs to their high-resolution variant and drops duplicates,
// keyed by the image id embedded in the URL when the platform defines one.
func processImages(def *platform.Definition, urls []string) domain.StringList {
	out := make(domain.StringList, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		u = def.UpgradeImage(u)
		key := def.ImageKey(u)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

package repos

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-getter"

	"github.com/roostlabs/roost/errors"
)

// Source is a resolved clone input.
type Source struct {
	// URL is the clone URL, or the absolute path for local sources.
	URL string
	// Name is the directory-safe repo name derived from the input.
	Name string
	// Local reports whether the source is a path on this machine.
	Local bool
}

// shorthandPattern matches GitHub owner/repo shorthand, e.g. "roostlabs/roost".
var shorthandPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Resolve normalizes a clone input. Existing paths resolve as local sources,
// GitHub owner/repo shorthand expands per the configured clone protocol
// ("ssh" or "https"), and everything else goes through go-getter detection to
// separate local paths from remote URLs.
func Resolve(input, cloneProtocol string) (*Source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "clone source cannot be empty")
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	// Paths that exist on disk win over shorthand interpretation.
	if _, err := os.Stat(expandHome(input)); err == nil {
		return localSource(input, pwd)
	}

	if shorthandPattern.MatchString(input) && !strings.HasPrefix(input, ".") {
		slug := strings.TrimSuffix(input, ".git")
		src := &Source{Name: repoName(slug)}
		if cloneProtocol == "https" {
			src.URL = "https://github.com/" + slug + ".git"
		} else {
			src.URL = "git@github.com:" + slug + ".git"
		}
		return src, nil
	}

	detected, err := getter.Detect(input, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to detect source type for %q", input)
	}

	parsed, err := url.Parse(detected)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse detected source %q", detected)
	}
	if parsed.Scheme == "file" || parsed.Scheme == "" {
		path := input
		if parsed.Scheme == "file" {
			path = parsed.Path
		}
		return localSource(path, pwd)
	}

	// go-getter marks git sources with a forcing prefix; the clone URL must
	// not carry it.
	cloneURL := strings.TrimPrefix(detected, "git::")
	return &Source{URL: cloneURL, Name: repoName(input)}, nil
}

// localSource absolutizes a local path input.
func localSource(path, pwd string) (*Source, error) {
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(pwd, path)
	}
	return &Source{URL: path, Name: repoName(path), Local: true}, nil
}

// expandHome rewrites a leading ~/ to the user home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// repoName derives a directory-safe name from a clone URL or path.
func repoName(input string) string {
	input = strings.TrimSuffix(input, "/")
	input = strings.TrimSuffix(input, ".git")
	if i := strings.LastIndexAny(input, "/:"); i >= 0 {
		input = input[i+1:]
	}

	name := strings.NewReplacer(":", "-", "@", "-", " ", "-").Replace(input)
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "repo"
	}
	return name
}

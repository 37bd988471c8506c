package catalog

import "encoding/json"

// Record is one catalog entry to compile: an MCP server or an AI model
// descriptor. It is read-only input; alternate key names in the source
// document (id / registryId / modelId, repository as string or object)
// are resolved once by the adapter in this package.
type Record struct {
	ID          string
	Name        string
	Slug        string
	Namespace   string
	Description string
	RepoURL     string
	Source      string
	Origin      string
	Provider    string
	Tags        []string

	// Origin hints consumed by the spawn resolver.
	Packages  []PackageHint
	Remotes   []RemoteHint
	RemoteURL string
	Image     string
}

// PackageHint describes a package-managed install source.
type PackageHint struct {
	RegistryType string            `json:"registryType"`
	Identifier   string            `json:"identifier"`
	Spawn        *SpawnHint        `json:"spawn,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// SpawnHint is a pre-resolved launch command attached to a package.
type SpawnHint struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// RemoteHint describes a direct remote endpoint source.
type RemoteHint struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// rawRecord mirrors the loosely-shaped source document. Hint fields may
// appear on the entry itself or nested under a "raw" object; the nested
// form wins when both are present.
type rawRecord struct {
	ID          string          `json:"id"`
	RegistryID  string          `json:"registryId"`
	ModelID     string          `json:"modelId"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Namespace   string          `json:"namespace"`
	Description string          `json:"description"`
	Repository  json.RawMessage `json:"repository"`
	RepoURL     string          `json:"repoUrl"`
	Source      string          `json:"source"`
	Origin      string          `json:"origin"`
	Provider    string          `json:"provider"`
	Tags        []string        `json:"tags"`

	Packages  []PackageHint `json:"packages"`
	Remotes   []RemoteHint  `json:"remotes"`
	RemoteURL string        `json:"remoteUrl"`
	Image     string        `json:"image"`

	Raw *rawHints `json:"raw"`
}

type rawHints struct {
	Packages  []PackageHint `json:"packages"`
	Remotes   []RemoteHint  `json:"remotes"`
	RemoteURL string        `json:"remoteUrl"`
	Image     string        `json:"image"`
}

// adapt converts a raw source entry into a typed Record, resolving
// alternate id keys (registryId > modelId > id) and repository shapes at
// the boundary.
func adapt(r rawRecord) Record {
	rec := Record{
		ID:          firstNonEmpty(r.RegistryID, r.ModelID, r.ID),
		Name:        r.Name,
		Slug:        r.Slug,
		Namespace:   r.Namespace,
		Description: r.Description,
		RepoURL:     r.RepoURL,
		Source:      r.Source,
		Origin:      r.Origin,
		Provider:    r.Provider,
		Tags:        r.Tags,
		Packages:    r.Packages,
		Remotes:     r.Remotes,
		RemoteURL:   r.RemoteURL,
		Image:       r.Image,
	}

	if rec.RepoURL == "" && len(r.Repository) > 0 {
		rec.RepoURL = repoURL(r.Repository)
	}

	if r.Raw != nil {
		if len(r.Raw.Packages) > 0 {
			rec.Packages = r.Raw.Packages
		}
		if len(r.Raw.Remotes) > 0 {
			rec.Remotes = r.Raw.Remotes
		}
		if r.Raw.RemoteURL != "" {
			rec.RemoteURL = r.Raw.RemoteURL
		}
		if r.Raw.Image != "" {
			rec.Image = r.Raw.Image
		}
	}

	return rec
}

// repoURL extracts a URL from a repository field that may be either a
// bare string or an object with a "url" key.
func repoURL(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

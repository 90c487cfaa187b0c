// the persisted catalogue and the merge that keeps it stable.
// the catalogue is a single JSON document, read whole and written whole.
// records are deduplicated by their canonical repository link and existing
// records are never clobbered: discovery only fills in the blanks.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// a catalogue entry.
// `Id` is unique within the catalogue but the dedup key is `Link`:
// one record per distinct repository.
// `IsGithub` and `Direct` are pointers so that a field absent from the
// catalogue file can be told apart from one deliberately set to false.
type Project struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // "plugin" | "theme"
	Link        string `json:"link"`
	IsGithub    *bool  `json:"isGithub,omitempty"`
	Direct      *bool  `json:"direct,omitempty"`
	Version     string `json:"version"`
	Typecho     string `json:"typecho"` // platform compatibility, not derivable from Github
	Author      string `json:"author"`
	Donate      string `json:"donate"`
	Description string `json:"description"`
	Dir         string `json:"dir"`
}

type Catalogue struct {
	UpdatedAt   string    `json:"updatedAt"`
	ProjectList []Project `json:"projects"`
}

func true_ptr() *bool {
	t := true
	return &t
}

// reads the catalogue at `path`.
// an absent file is an empty catalogue, an unreadable one is an error.
func read_catalogue(path string) (Catalogue, error) {
	empty_response := Catalogue{ProjectList: []Project{}}
	if !path_exists(path) {
		return empty_response, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return empty_response, fmt.Errorf("failed to read catalogue '%s': %w", path, err)
	}
	var catalogue Catalogue
	err = json.Unmarshal(blob, &catalogue)
	if err != nil {
		return empty_response, fmt.Errorf("failed to parse catalogue '%s' as JSON: %w", path, err)
	}
	if catalogue.ProjectList == nil {
		catalogue.ProjectList = []Project{}
	}
	return catalogue, nil
}

// writes the whole catalogue to `path`, creating parent directories as needed.
func write_catalogue(path string, catalogue Catalogue) error {
	blob, err := json.MarshalIndent(catalogue, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render catalogue as JSON: %w", err)
	}
	parent := filepath.Dir(path)
	err = os.MkdirAll(parent, 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", parent, err)
	}
	err = os.WriteFile(path, append(blob, '\n'), 0644)
	if err != nil {
		return fmt.Errorf("failed to write catalogue '%s': %w", path, err)
	}
	return nil
}

// the tail of a link, "https://github.com/foo/bar" => "bar".
// a stored dir equal to this is assumed to be a weak default that was never
// properly detected, rather than a deliberate choice. this is a heuristic and
// it misfires on repositories legitimately named after their install dir.
func link_tail(link string) string {
	bits := strings.Split(link, "/")
	return bits[len(bits)-1]
}

// copy `inc` over `*cur` only when `*cur` is blank.
func fill_blank(cur *string, inc string) {
	if *cur == "" && inc != "" {
		*cur = inc
	}
}

// merges a batch of freshly discovered projects into the existing catalogue.
// existing order is preserved and new records are appended in discovery order.
// records sharing a link are updates: the install dir may be corrected but
// every other field is fill-in-blanks only. new records get a collision-free
// id, suffixed "-2", "-3", ... against every id seen so far.
func merge_projects(existing []Project, incoming []Project) []Project {
	by_link := map[string]int{}
	used_ids := map[string]bool{}
	merged := make([]Project, len(existing))
	copy(merged, existing)
	for i, project := range merged {
		if strings.TrimSpace(project.Link) != "" {
			by_link[strings.TrimSpace(project.Link)] = i
		}
		if project.Id != "" {
			used_ids[project.Id] = true
		}
	}

	unique_id := func(base string) string {
		if !used_ids[base] {
			used_ids[base] = true
			return base
		}
		i := 2
		for used_ids[fmt.Sprintf("%s-%d", base, i)] {
			i += 1
		}
		id := fmt.Sprintf("%s-%d", base, i)
		used_ids[id] = true
		return id
	}

	for _, inc := range incoming {
		link := strings.TrimSpace(inc.Link)
		if link == "" {
			continue
		}

		idx, present := by_link[link]
		if present {
			cur := &merged[idx]

			// only fill blanks, but always fix the install dir if we detected one.
			if inc.Dir != "" && (cur.Dir == "" || cur.Dir == link_tail(cur.Link)) {
				cur.Dir = inc.Dir
			} else if inc.Dir != "" && cur.Dir != inc.Dir && is_valid_dir(inc.Dir) {
				cur.Dir = inc.Dir
			}

			fill_blank(&cur.Version, inc.Version)
			fill_blank(&cur.Typecho, inc.Typecho)
			fill_blank(&cur.Author, inc.Author)
			fill_blank(&cur.Donate, inc.Donate)
			fill_blank(&cur.Description, inc.Description)
			fill_blank(&cur.Name, inc.Name)
			fill_blank(&cur.Type, inc.Type)

			if cur.IsGithub == nil {
				cur.IsGithub = true_ptr()
			}
			if cur.Direct == nil {
				cur.Direct = true_ptr()
			}
			continue
		}

		inc.Id = unique_id(inc.Id)
		merged = append(merged, inc)
		by_link[link] = len(merged) - 1
	}

	return merged
}

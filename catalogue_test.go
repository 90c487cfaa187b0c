package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_merge_projects_new(t *testing.T) {
	incoming := []Project{{
		Id:   "plugin-myplugin",
		Type: "plugin",
		Link: "https://github.com/a/b",
		Dir:  "MyPlugin",
	}}
	merged := merge_projects([]Project{}, incoming)
	assert.Equal(t, 1, len(merged))
	assert.Equal(t, "plugin-myplugin", merged[0].Id)
	assert.Equal(t, "MyPlugin", merged[0].Dir)
	assert.Equal(t, "https://github.com/a/b", merged[0].Link)
}

func Test_merge_projects_skips_empty_link(t *testing.T) {
	incoming := []Project{{Id: "plugin-foo", Dir: "Foo", Link: "  "}}
	merged := merge_projects([]Project{}, incoming)
	assert.Equal(t, 0, len(merged))
}

func Test_merge_projects_fill_blanks(t *testing.T) {
	existing := []Project{{
		Id:      "plugin-foo",
		Link:    "https://github.com/a/b",
		Author:  "",
		Version: "1.0",
	}}
	incoming := []Project{{
		Id:      "plugin-foo",
		Link:    "https://github.com/a/b",
		Author:  "Bob",
		Version: "2.0",
	}}
	merged := merge_projects(existing, incoming)
	assert.Equal(t, 1, len(merged))
	assert.Equal(t, "Bob", merged[0].Author)
	assert.Equal(t, "1.0", merged[0].Version) // already set, not overwritten
}

func Test_merge_projects_id_collision(t *testing.T) {
	existing := []Project{{Id: "plugin-foo", Link: "https://github.com/a/b"}}
	incoming := []Project{{Id: "plugin-foo", Link: "https://github.com/c/d", Dir: "Foo"}}
	merged := merge_projects(existing, incoming)
	assert.Equal(t, 2, len(merged))
	assert.Equal(t, "plugin-foo-2", merged[1].Id)

	// a third colliding id within the same pass
	incoming = append(incoming, Project{Id: "plugin-foo", Link: "https://github.com/e/f", Dir: "Foo"})
	merged = merge_projects(existing, incoming)
	assert.Equal(t, 3, len(merged))
	assert.Equal(t, "plugin-foo-2", merged[1].Id)
	assert.Equal(t, "plugin-foo-3", merged[2].Id)
}

func Test_merge_projects_idempotent(t *testing.T) {
	existing := []Project{{
		Id:   "plugin-old",
		Link: "https://github.com/a/old",
		Dir:  "Old",
	}}
	// as built by the pipeline: flags always present
	incoming := []Project{
		{Id: "plugin-new", Link: "https://github.com/a/new", Dir: "New", Author: "Jane", IsGithub: true_ptr(), Direct: true_ptr()},
		{Id: "plugin-old", Link: "https://github.com/a/old", Dir: "Old", Version: "1.0", IsGithub: true_ptr(), Direct: true_ptr()},
	}
	once := merge_projects(existing, incoming)
	twice := merge_projects(once, incoming)
	assert.Equal(t, once, twice)
}

func Test_merge_projects_dir_correction(t *testing.T) {
	// a stored dir equal to the link tail is treated as a weak default
	existing := []Project{{
		Id:   "plugin-b",
		Link: "https://github.com/a/b",
		Dir:  "b",
	}}
	incoming := []Project{{
		Id:   "plugin-myplugin",
		Link: "https://github.com/a/b",
		Dir:  "MyPlugin",
	}}
	merged := merge_projects(existing, incoming)
	assert.Equal(t, 1, len(merged))
	assert.Equal(t, "MyPlugin", merged[0].Dir)

	// an empty stored dir is always corrected
	existing[0].Dir = ""
	merged = merge_projects(existing, incoming)
	assert.Equal(t, "MyPlugin", merged[0].Dir)

	// a differing stored dir loses to a validating incoming dir.
	// nb: this is a heuristic, not an invariant. a repository legitimately
	// named after its install dir is indistinguishable from a weak default.
	existing[0].Dir = "Curated"
	merged = merge_projects(existing, incoming)
	assert.Equal(t, "MyPlugin", merged[0].Dir)

	// an invalid incoming dir never overwrites a differing stored one
	incoming[0].Dir = "../etc"
	existing[0].Dir = "Curated"
	merged = merge_projects(existing, incoming)
	assert.Equal(t, "Curated", merged[0].Dir)
}

func Test_merge_projects_flag_defaults(t *testing.T) {
	f := false
	existing := []Project{
		{Id: "plugin-a", Link: "https://github.com/a/a"},             // flags absent
		{Id: "plugin-b", Link: "https://github.com/b/b", Direct: &f}, // deliberately false
	}
	incoming := []Project{
		{Id: "plugin-a", Link: "https://github.com/a/a", IsGithub: true_ptr(), Direct: true_ptr()},
		{Id: "plugin-b", Link: "https://github.com/b/b", IsGithub: true_ptr(), Direct: true_ptr()},
	}
	merged := merge_projects(existing, incoming)
	assert.True(t, *merged[0].IsGithub)
	assert.True(t, *merged[0].Direct)
	assert.False(t, *merged[1].Direct) // false is kept, only absence is defaulted
	assert.True(t, *merged[1].IsGithub)
}

func Test_merge_projects_preserves_order(t *testing.T) {
	existing := []Project{
		{Id: "plugin-a", Link: "https://github.com/a/a"},
		{Id: "plugin-b", Link: "https://github.com/b/b"},
	}
	incoming := []Project{
		{Id: "plugin-c", Link: "https://github.com/c/c", Dir: "C"},
		{Id: "plugin-a", Link: "https://github.com/a/a", Dir: "A"},
		{Id: "plugin-d", Link: "https://github.com/d/d", Dir: "D"},
	}
	merged := merge_projects(existing, incoming)
	ids := []string{}
	for _, project := range merged {
		ids = append(ids, project.Id)
	}
	assert.Equal(t, []string{"plugin-a", "plugin-b", "plugin-c", "plugin-d"}, ids)
}

func Test_read_catalogue_absent(t *testing.T) {
	catalogue, err := read_catalogue(filepath.Join(t.TempDir(), "nope.json"))
	assert.Nil(t, err)
	assert.Equal(t, "", catalogue.UpdatedAt)
	assert.Equal(t, []Project{}, catalogue.ProjectList)
}

func Test_read_catalogue_corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.json")
	assert.Nil(t, os.WriteFile(path, []byte("{nope"), 0644))
	_, err := read_catalogue(path)
	assert.NotNil(t, err)
}

func Test_catalogue_round_trip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "repo.json")
	catalogue := Catalogue{
		UpdatedAt: "2026-08-29",
		ProjectList: []Project{{
			Id:       "plugin-foo",
			Name:     "Foo",
			Type:     "plugin",
			Link:     "https://github.com/a/b",
			Dir:      "Foo",
			IsGithub: true_ptr(),
			Direct:   true_ptr(),
		}},
	}
	assert.Nil(t, write_catalogue(path, catalogue))
	read_back, err := read_catalogue(path)
	assert.Nil(t, err)
	assert.Equal(t, catalogue, read_back)
}

func Test_link_tail(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"https://github.com/a/b": "b",
		"no-slashes":             "no-slashes",
	}
	for given, expected := range cases {
		assert.Equal(t, expected, link_tail(given), given)
	}
}

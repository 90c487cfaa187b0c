// metadata extraction and project building.
// a candidate repository's entry file (Plugin.php, index.php) carries a
// conventional docblock near the top of the file:
//
//	/**
//	 * A sample plugin.
//	 *
//	 * @package HelloWorld
//	 * @author jane
//	 * @version 1.2.0
//	 * @link https://example.org
//	 */
//
// tags are scraped out of the first docblock found and combined with the
// Github search result into a catalogue `Project`.
package main

import (
	"fmt"
	"regexp"
	"strings"
)

// how much of an entry file is inspected for a docblock.
var DOCBLOCK_WINDOW = 8000

// how much of an entry file is inspected for a `Foo_Plugin` class name.
var CLASS_WINDOW = 16000

// display names longer than this are swapped for the @package tag, when present.
var MAX_DISPLAY_NAME_LEN = 40

var DIR_PATTERN = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
var SLUG_PATTERN = regexp.MustCompile(`[^a-z0-9]+`)
var SANITIZE_PATTERN = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
var CLASS_PREFIX_PATTERN = regexp.MustCompile(`\bclass\s+([A-Za-z0-9_]+)_Plugin\b`)
var VERSION_PATTERN = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
var VERSION_JUNK_PATTERN = regexp.MustCompile(`[^0-9A-Za-z.+-]`)
var PLUGIN_PREFIX_PATTERN = regexp.MustCompile(`(?i)^typecho[-_]?plugin[-_]+`)
var THEME_PREFIX_PATTERN = regexp.MustCompile(`(?i)^typecho[-_]?theme[-_]+`)

// tags recognised within a docblock.
var TAG_PATTERN_MAP = map[string]*regexp.Regexp{
	"package": regexp.MustCompile(`(?i)^@package\s+(.+)`),
	"author":  regexp.MustCompile(`(?i)^@author\s+(.+)`),
	"version": regexp.MustCompile(`(?i)^@version\s+(.+)`),
	"link":    regexp.MustCompile(`(?i)^@link\s+(.+)`),
}

// what we scrape from an entry file's docblock. all fields may be empty.
type ProjectMetadata struct {
	Package     string
	Author      string
	Version     string
	Link        string
	Description string
}

// "Some Plugin!" => "some-plugin"
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = SLUG_PATTERN.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// is `s` safe to use as an install directory name?
func is_valid_dir(s string) bool {
	return DIR_PATTERN.MatchString(s)
}

// strips the conventional "typecho-plugin-"/"typecho-theme-" prefix from a
// repository name. falls back to the repository name when stripping leaves nothing.
func derive_display_name(repo_name string, kind string) string {
	name := strings.TrimSpace(repo_name)
	switch kind {
	case "plugin":
		name = PLUGIN_PREFIX_PATTERN.ReplaceAllString(name, "")
	case "theme":
		name = THEME_PREFIX_PATTERN.ReplaceAllString(name, "")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return repo_name
	}
	return name
}

// returns the first "/** ... */" comment block within the head of `text`,
// delimiters included. returns an empty string when either delimiter is missing.
func first_docblock(text string) string {
	head := text
	if len(head) > DOCBLOCK_WINDOW {
		head = head[:DOCBLOCK_WINDOW]
	}
	start := strings.Index(head, "/**")
	if start == -1 {
		return ""
	}
	end := strings.Index(head[start:], "*/")
	if end == -1 {
		return ""
	}
	return head[start : start+end+2]
}

// strips comment delimiters and leading asterisks from each line of a docblock.
func docblock_lines(doc string) []string {
	line_list := []string{}
	for _, raw := range strings.Split(doc, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "/**")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimSpace(strings.TrimLeft(line, "*"))
		line_list = append(line_list, line)
	}
	return line_list
}

// the description is the first non-empty line that isn't a tag.
func pick_description(line_list []string) string {
	for _, line := range line_list {
		if line == "" || strings.HasPrefix(line, "@") {
			continue
		}
		return strings.TrimSpace(line)
	}
	return ""
}

// scans the docblock line-wise for recognised tags.
// the first occurrence of a tag wins, later duplicates are ignored.
func parse_docblock(doc string) ProjectMetadata {
	line_list := docblock_lines(doc)
	meta := ProjectMetadata{
		Description: pick_description(line_list),
	}
	tag_val_map := map[string]string{}
	for _, line := range line_list {
		for tag, pattern := range TAG_PATTERN_MAP {
			if tag_val_map[tag] != "" {
				continue
			}
			matches := pattern.FindStringSubmatch(line)
			if matches != nil {
				tag_val_map[tag] = strings.TrimSpace(matches[1])
			}
		}
	}
	meta.Package = tag_val_map["package"]
	meta.Author = tag_val_map["author"]
	meta.Version = tag_val_map["version"]
	meta.Link = tag_val_map["link"]
	return meta
}

// plugins conventionally declare a class like `HelloWorld_Plugin`.
// the prefix is a decent fallback for the install directory when the
// @package tag is missing.
func extract_class_prefix(text string) string {
	head := text
	if len(head) > CLASS_WINDOW {
		head = head[:CLASS_WINDOW]
	}
	matches := CLASS_PREFIX_PATTERN.FindStringSubmatch(head)
	if matches == nil {
		return ""
	}
	return strings.TrimSpace(matches[1])
}

// reduces a raw version string to something comparable.
// "v2.3.1-beta" => "2.3.1", "Version 1.0" => "1.0", "1_2" => "1.2"
func clean_version(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	matches := VERSION_PATTERN.FindStringSubmatch(v)
	if matches != nil {
		return matches[1]
	}
	v = strings.TrimLeft(v, "vV")
	v = strings.ReplaceAll(v, "_", ".")
	return VERSION_JUNK_PATTERN.ReplaceAllString(v, "")
}

// resolves the install directory for a candidate, in priority order:
// @package tag, class prefix, the derived display name, then best-effort
// sanitised forms of the display name and the raw repository name.
// each step is gated on `is_valid_dir`. returns "" when nothing validates.
func build_dir(kind string, repo_name string, meta ProjectMetadata, class_prefix string) string {
	if is_valid_dir(meta.Package) {
		return meta.Package
	}
	if is_valid_dir(class_prefix) {
		return class_prefix
	}
	derived := derive_display_name(repo_name, kind)
	if is_valid_dir(derived) {
		return derived
	}
	sanitized := strings.Trim(SANITIZE_PATTERN.ReplaceAllString(derived, "-"), "-")
	if is_valid_dir(sanitized) {
		return sanitized
	}
	sanitized = strings.Trim(SANITIZE_PATTERN.ReplaceAllString(repo_name, "-"), "-")
	if is_valid_dir(sanitized) {
		return sanitized
	}
	return ""
}

// combines a Github search result and its entry file's text into a catalogue
// `Project`. returns an error when no legal install directory can be resolved.
func build_project(kind string, repo GithubRepo, file_text string) (Project, error) {
	empty_response := Project{}

	meta := parse_docblock(first_docblock(file_text))

	class_prefix := ""
	if kind == "plugin" {
		class_prefix = extract_class_prefix(file_text)
	}

	install_dir := build_dir(kind, repo.Name, meta, class_prefix)
	if install_dir == "" {
		install_dir = repo.Name
	}
	if !is_valid_dir(install_dir) {
		return empty_response, fmt.Errorf("no legal install directory for '%s/%s'", repo.Owner.Login, repo.Name)
	}

	display_name := derive_display_name(repo.Name, kind)
	if meta.Package != "" && len(display_name) > MAX_DISPLAY_NAME_LEN {
		// package identifiers are usually shorter and cleaner than long repository names.
		display_name = meta.Package
	}

	// a @link pointing back at Github is just the repository again,
	// anything else is worth keeping as a donation/homepage link.
	donate := ""
	if meta.Link != "" && !strings.HasPrefix(strings.ToLower(meta.Link), "https://github.com/") {
		donate = meta.Link
	}
	if donate == "" {
		homepage := strings.ToLower(repo.Homepage)
		if strings.HasPrefix(homepage, "http://") || strings.HasPrefix(homepage, "https://") {
			donate = repo.Homepage
		}
	}

	author := meta.Author
	if author == "" {
		author = repo.Owner.Login
	}

	description := repo.Description
	if description == "" {
		description = meta.Description
	}

	link := repo.HtmlUrl
	if link == "" {
		link = fmt.Sprintf("https://github.com/%s/%s", repo.Owner.Login, repo.Name)
	}

	slug := slugify(install_dir)
	if slug == "" {
		slug = slugify(repo.Owner.Login + "-" + repo.Name)
	}

	return Project{
		Id:          kind + "-" + slug,
		Name:        display_name,
		Type:        kind,
		Link:        link,
		IsGithub:    true_ptr(),
		Direct:      true_ptr(),
		Version:     clean_version(meta.Version),
		Typecho:     "",
		Author:      author,
		Donate:      donate,
		Description: description,
		Dir:         install_dir,
	}, nil
}

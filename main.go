package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"github.com/tidwall/gjson"
)

type State struct {
	CWD         string
	GithubToken string
	Client      *http.Client
}

func NewState() *State {
	return &State{}
}

type GithubRepoOwner struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// a Github search result
type GithubRepo struct {
	Name          string          `json:"name"`
	FullName      string          `json:"full_name"`
	Owner         GithubRepoOwner `json:"owner"`
	Description   string          `json:"description"`
	HtmlUrl       string          `json:"html_url"`
	DefaultBranch string          `json:"default_branch"`
	Homepage      string          `json:"homepage"`
	Fork          bool            `json:"fork"`
	Archived      bool            `json:"archived"`
}

type ResponseWrapper struct {
	*http.Response
	Text string
}

// -- globals

var STATE *State

var API_URL = "https://api.github.com"
var RAW_URL = "https://raw.githubusercontent.com"

// the environment variables consulted for an API token, in order.
var TOKEN_ENV_VARS = []string{"GITHUB_TOKEN", "GH_TOKEN", "GITHUB_PAT", "GITHUB_API_TOKEN"}

var REPO_EXCLUDES = map[string]bool{
	"typecho/":             true, // the CMS itself and its satellites, not plugins
	"typecho-fans/plugins": true, // compilation, no single entry file
	"typecho-fans/themes":  true, // compilation
}

// per-kind entry files inspected for metadata.
var ENTRY_FILE_MAP = map[string]string{
	"plugin": "Plugin.php",
	"theme":  "index.php",
}

// --- utils

// returns the exclusion pattern matching `repo_fullname`, if any.
// a pattern ending in "/" excludes every repository under that owner prefix.
func is_excluded(repo_fullname string) (string, bool) {
	for pattern := range REPO_EXCLUDES {
		if pattern != "" && strings.HasPrefix(repo_fullname, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func clamp(v int, low int, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// client trace to log whether the request's underlying tcp connection was re-used
func trace_context() context.Context {
	client_tracer := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			slog.Debug("HTTP connection reuse", "reused", info.Reused, "remote", info.Conn.RemoteAddr())
		},
	}
	return httptrace.WithClientTrace(context.Background(), client_tracer)
}

func download(url string, headers map[string]string) (ResponseWrapper, error) {
	slog.Debug("HTTP GET", "url", url)
	empty_response := ResponseWrapper{}

	// ---

	req, err := http.NewRequestWithContext(trace_context(), http.MethodGet, url, nil)
	if err != nil {
		return empty_response, fmt.Errorf("failed to create request: %w", err)
	}
	for header, header_val := range headers {
		req.Header.Set(header, header_val)
	}

	// ---

	client := STATE.Client
	resp, err := client.Do(req)
	if err != nil {
		return empty_response, fmt.Errorf("failed to fetch '%s': %w", url, err)
	}
	defer resp.Body.Close()

	// ---

	content_bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty_response, fmt.Errorf("failed to read response body: %w", err)
	}

	return ResponseWrapper{
		Response: resp,
		Text:     string(content_bytes),
	}, nil
}

// just like `download` but adds 'authorization' and 'accept' headers to the request.
func github_download(url string) (ResponseWrapper, error) {
	headers := map[string]string{
		"Accept":     "application/vnd.github+json",
		"User-Agent": "github-typecho-catalogue",
	}
	if STATE.GithubToken != "" {
		headers["Authorization"] = "Bearer " + STATE.GithubToken
	}
	return download(url, headers)
}

// inspects http response and determines if the API rate limit was hit.
func rate_limited(resp ResponseWrapper) bool {
	return resp.StatusCode == 403 && strings.Contains(strings.ToLower(resp.Text), "rate limit")
}

// --- tasks

// fetches pages of repository search results for `query`, most-starred first.
func search_repos(query string, per_page int, pages int) ([]GithubRepo, error) {
	results_acc := []GithubRepo{}
	query = url.PathEscape(query)

	for page := 1; page <= pages; page += 1 {
		api_url := API_URL + fmt.Sprintf("/search/repositories?q=%s&sort=stars&order=desc&per_page=%d&page=%d", query, per_page, page)
		resp, err := github_download(api_url)
		if err != nil {
			return nil, fmt.Errorf("error requesting url '%s': %w", api_url, err)
		}

		if rate_limited(resp) {
			// no point retrying, the window is an hour. bail out.
			return nil, errors.New("Github API rate limit exceeded. Set GITHUB_TOKEN to increase limits.")
		}

		if resp.StatusCode != 200 {
			return nil, fmt.Errorf("non-200 response searching repositories: %d", resp.StatusCode)
		}

		item_list := gjson.Get(resp.Text, "items")
		if !item_list.Exists() {
			return nil, errors.New("expected field 'items' not found in search response")
		}

		page_count := 0
		for _, item := range item_list.Array() {
			var repo GithubRepo
			err = json.Unmarshal([]byte(item.String()), &repo)
			if err != nil {
				slog.Warn("skipping unparseable search result", "error", err)
				continue
			}
			if repo.Owner.Login == "" || repo.Name == "" {
				slog.Warn("skipping search result with no owner or name", "item", item.String())
				continue
			}
			if strings.TrimSpace(repo.DefaultBranch) == "" {
				repo.DefaultBranch = "main"
			}
			results_acc = append(results_acc, repo)
			page_count += 1
		}

		if page_count == 0 {
			// ran out of results before running out of pages.
			break
		}
	}

	return results_acc, nil
}

// fetches the raw text of a file within a repository.
// a missing file is a soft miss (`present` is false), not an error.
func fetch_entry_file(repo GithubRepo, path string) (string, bool, error) {
	file_url := fmt.Sprintf("%s/%s/%s/%s/%s", RAW_URL, repo.Owner.Login, repo.Name, repo.DefaultBranch, strings.TrimLeft(path, "/"))
	resp, err := github_download(file_url)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == 404 {
		return "", false, nil
	}
	if resp.StatusCode != 200 {
		return "", false, fmt.Errorf("non-200 response fetching '%s': %d", file_url, resp.StatusCode)
	}
	text_bytes, err := elide_bom([]byte(resp.Text))
	if err != nil {
		return "", false, fmt.Errorf("failed to read entry file text: %w", err)
	}
	return string(text_bytes), true, nil
}

// turns search results into catalogue projects until `limit` projects have been
// accepted. candidates that fail to fetch, fail to build or resolve no legal
// install directory are skipped and don't count towards the limit.
func collect(kind string, repo_list []GithubRepo, limit int) []Project {
	project_list := []Project{}
	for _, repo := range repo_list {
		if len(project_list) >= limit {
			break
		}

		pattern, excluded := is_excluded(repo.FullName)
		if excluded {
			slog.Debug("repository is excluded", "repo", repo.FullName, "pattern", pattern)
			continue
		}

		text, present, err := fetch_entry_file(repo, ENTRY_FILE_MAP[kind])
		if err != nil {
			slog.Warn("skipping candidate, failed to fetch entry file", "repo", repo.FullName, "error", err)
			continue
		}
		if !present {
			slog.Debug("skipping candidate, no entry file", "repo", repo.FullName, "file", ENTRY_FILE_MAP[kind])
			continue
		}

		project, err := build_project(kind, repo, text)
		if err != nil {
			slog.Warn("skipping candidate", "repo", repo.FullName, "error", err)
			continue
		}

		slog.Info("accepted candidate", "kind", kind, "repo", repo.FullName, "dir", project.Dir)
		project_list = append(project_list, project)
	}
	return project_list
}

// --- bootstrap

func init_state(cache_dir string) *State {
	state := NewState()

	for _, env_var := range TOKEN_ENV_VARS {
		token, present := os.LookupEnv(env_var)
		token = strings.TrimSpace(token)
		if present && token != "" {
			state.GithubToken = token
			break
		}
	}
	if state.GithubToken == "" {
		slog.Warn("no Github token found, unauthenticated rate limits apply", "env-vars", strings.Join(TOKEN_ENV_VARS, ", "))
	}

	cwd, err := os.Getwd()
	die(err != nil, "failed to find the current working directory")
	state.CWD = cwd

	state.Client = &http.Client{
		Timeout: 25 * time.Second,
	}
	if cache_dir != "" {
		err = os.MkdirAll(cache_dir, 0755)
		die(err != nil, "failed to create the cache directory: "+cache_dir)
		state.Client.Transport = &FileCachingRequest{CacheDir: cache_dir}
	}

	return state
}

func init() {
	if is_testing() {
		return
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo})))
}

func main() {
	catalogue_path := pflag.String("repo-json", "repo.json", "path to the catalogue file to update")
	plugin_cap := pflag.Int("plugins", 25, "max plugin projects to add/update")
	theme_cap := pflag.Int("themes", 25, "max theme projects to add/update")
	per_page := pflag.Int("per-page", 50, "search results per page, 1-100")
	pages := pflag.Int("pages", 2, "search pages to fetch per kind")
	cache_dir := pflag.String("cache-dir", "", "cache HTTP responses under this directory (development only)")
	pflag.Parse()

	STATE = init_state(*cache_dir)

	catalogue, err := read_catalogue(*catalogue_path)
	if err != nil {
		die(true, err.Error())
	}

	slog.Info("searching for projects", "topic", "typecho")

	pp := clamp(*per_page, 1, 100)
	pc := clamp(*pages, 1, 10)
	plugin_repo_list, err := search_repos("topic:typecho plugin fork:false archived:false", pp, pc)
	if err != nil {
		die(true, err.Error())
	}
	theme_repo_list, err := search_repos("topic:typecho theme fork:false archived:false", pp, pc)
	if err != nil {
		die(true, err.Error())
	}
	slog.Info("found candidates", "plugins", len(plugin_repo_list), "themes", len(theme_repo_list))

	discovered := flatten(
		collect("plugin", plugin_repo_list, max(0, *plugin_cap)),
		collect("theme", theme_repo_list, max(0, *theme_cap)),
	)

	catalogue.ProjectList = merge_projects(catalogue.ProjectList, discovered)
	catalogue.UpdatedAt = time.Now().Format(time.DateOnly)

	err = write_catalogue(*catalogue_path, catalogue)
	if err != nil {
		die(true, err.Error())
	}

	slog.Info("catalogue updated", "path", *catalogue_path, "discovered", len(discovered), "total", len(catalogue.ProjectList))
}

// Package runinfo describes where a fuzzing run executes, for case summaries.
package runinfo

import (
	"os"
	"regexp"
	"strings"
)

var pullRefPattern = regexp.MustCompile(`^refs/pull/([0-9]+)/`)

// Info is attached to every failure case.
type Info struct {
	Host        string `json:"host,omitempty"`
	CI          bool   `json:"ci,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	PullRequest string `json:"pull_request,omitempty"`
	BuildURL    string `json:"build_url,omitempty"`
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// FromEnv reads run metadata from the process environment.
func FromEnv() *Info {
	host, _ := os.Hostname()
	return FromLookup(os.LookupEnv, host)
}

// FromLookup builds run metadata from lookup. PLANFUZZ_RUN_* variables take
// precedence over whatever the CI provider exports. It returns nil when
// nothing is known beyond the host.
func FromLookup(lookup LookupFunc, host string) *Info {
	e := envReader{lookup: lookup}
	info := Info{Host: strings.TrimSpace(host)}

	switch {
	case e.truthy("GITHUB_ACTIONS"):
		info.CI = true
		info.Provider = "github_actions"
		info.Repository = e.get("GITHUB_REPOSITORY")
		info.Branch = e.first("GITHUB_HEAD_REF", "GITHUB_REF_NAME")
		info.Commit = e.get("GITHUB_SHA")
		info.RunID = e.get("GITHUB_RUN_ID")
		if m := pullRefPattern.FindStringSubmatch(e.get("GITHUB_REF")); len(m) > 1 {
			info.PullRequest = m[1]
		}
		server := e.get("GITHUB_SERVER_URL")
		if server == "" {
			server = "https://github.com"
		}
		if info.Repository != "" && info.RunID != "" {
			info.BuildURL = strings.TrimRight(server, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
		}
	case e.truthy("GITLAB_CI"):
		info.CI = true
		info.Provider = "gitlab_ci"
		info.Repository = e.get("CI_PROJECT_PATH")
		info.Branch = e.get("CI_COMMIT_REF_NAME")
		info.Commit = e.get("CI_COMMIT_SHA")
		info.RunID = e.get("CI_PIPELINE_ID")
		info.PullRequest = e.get("CI_MERGE_REQUEST_IID")
		info.BuildURL = e.get("CI_JOB_URL")
	case e.get("JENKINS_URL") != "":
		info.CI = true
		info.Provider = "jenkins"
		info.Branch = e.first("BRANCH_NAME", "GIT_BRANCH")
		info.Commit = e.get("GIT_COMMIT")
		info.RunID = e.get("BUILD_ID")
		info.BuildURL = e.get("BUILD_URL")
	case e.truthy("CI"):
		info.CI = true
		info.Provider = "generic"
	}

	overridden := false
	for key, dst := range map[string]*string{
		"PLANFUZZ_RUN_PROVIDER":     &info.Provider,
		"PLANFUZZ_RUN_REPOSITORY":   &info.Repository,
		"PLANFUZZ_RUN_BRANCH":       &info.Branch,
		"PLANFUZZ_RUN_COMMIT":       &info.Commit,
		"PLANFUZZ_RUN_ID":           &info.RunID,
		"PLANFUZZ_RUN_PULL_REQUEST": &info.PullRequest,
		"PLANFUZZ_RUN_BUILD_URL":    &info.BuildURL,
	} {
		if v := e.get(key); v != "" {
			*dst = v
			overridden = true
		}
	}
	if v, ok := e.lookupTrimmed("PLANFUZZ_RUN_CI"); ok && v != "" {
		info.CI = isTruthy(v)
	} else if overridden {
		info.CI = true
	}

	info.Provider = strings.ToLower(info.Provider)
	info.Branch = strings.TrimPrefix(strings.TrimPrefix(info.Branch, "refs/heads/"), "origin/")
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
	if !info.CI && info.Provider == "" && info.Repository == "" && info.Commit == "" && info.RunID == "" {
		return nil
	}
	return &info
}

type envReader struct {
	lookup LookupFunc
}

func (e envReader) lookupTrimmed(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	return strings.TrimSpace(v), ok
}

func (e envReader) get(key string) string {
	v, _ := e.lookupTrimmed(key)
	return v
}

func (e envReader) first(keys ...string) string {
	for _, key := range keys {
		if v := e.get(key); v != "" {
			return v
		}
	}
	return ""
}

func (e envReader) truthy(key string) bool {
	return isTruthy(e.get(key))
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

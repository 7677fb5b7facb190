package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
)

const (
	githubSlug       = "github"
	githubAPIVersion = "2022-11-28"
)

// GitHubAdapter sends organization invitations. Credentials: token, org, and
// optionally role and team_ids (comma separated).
type GitHubAdapter struct {
	baseURL string
	client  *http.Client
}

func NewGitHubAdapter(baseURL string, timeout time.Duration) *GitHubAdapter {
	return &GitHubAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

func (a *GitHubAdapter) Slug() string { return githubSlug }

type githubInvitationRequest struct {
	Email   string  `json:"email"`
	Role    string  `json:"role"`
	TeamIDs []int64 `json:"team_ids,omitempty"`
}

type githubInvitationResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

func (a *GitHubAdapter) Dispatch(ctx context.Context, creds Credentials, input Input) (Result, error) {
	token, org := creds.Get("token"), creds.Get("org")
	if token == "" || org == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "github account is missing token or org")
	}
	role := creds.Get("role")
	if role == "" {
		role = "direct_member"
	}
	teamIDs, err := parseTeamIDs(creds.Get("team_ids"))
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "github account has invalid team_ids")
	}

	body, err := json.Marshal(githubInvitationRequest{Email: input.Email, Role: role, TeamIDs: teamIDs})
	if err != nil {
		return Result{}, err
	}
	url := fmt.Sprintf("%s/orgs/%s/invitations", a.baseURL, org)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "github request failed")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var decoded githubInvitationResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return Result{
			Provider:  githubSlug,
			Status:    ResultInvited,
			Message:   "organization invitation sent",
			Reference: strconv.FormatInt(decoded.ID, 10),
			Email:     input.Email,
		}, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// already a member, already invited or an address github rejects
		return Result{}, pkgerrors.Newf(pkgerrors.CodeValidation, "github rejected invitation: %s", decoded.Message)
	default:
		return Result{}, pkgerrors.Newf(pkgerrors.CodeDependency, "github returned %d: %s", resp.StatusCode, decoded.Message)
	}
}

func parseTeamIDs(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

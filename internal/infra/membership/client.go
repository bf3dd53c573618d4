package membership

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	httpclient "github.com/astro-web3/projecthub-auth/pkg/http"
)

const (
	projectMemberPath   = "/internal/projects/{resourceID}/members/{subject}"
	taskParticipantPath = "/internal/tasks/{resourceID}/participants/{subject}"
)

var ErrUnexpectedStatus = errors.New("unexpected membership response")

type membershipResponse struct {
	Member bool `json:"member"`
}

type client struct {
	baseURL      string
	timeout      time.Duration
	serviceToken string
}

// NewClient returns a lookup backed by the project service's internal API.
func NewClient(baseURL string, timeout time.Duration, serviceToken string) permission.MembershipLookup {
	return &client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		timeout:      timeout,
		serviceToken: serviceToken,
	}
}

func (c *client) IsProjectMember(ctx context.Context, projectID, subject string) (bool, error) {
	return c.lookup(ctx, projectMemberPath, projectID, subject)
}

func (c *client) IsTaskParticipant(ctx context.Context, taskID, subject string) (bool, error) {
	return c.lookup(ctx, taskParticipantPath, taskID, subject)
}

func (c *client) lookup(ctx context.Context, path, resourceID, subject string) (bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var result membershipResponse
	resp, err := httpclient.Get(ctx, c.baseURL+path,
		httpclient.WithPathParams(map[string]string{
			"resourceID": resourceID,
			"subject":    subject,
		}),
		httpclient.WithAuthToken(c.serviceToken),
		httpclient.WithResult(&result),
	)
	if err != nil {
		return false, fmt.Errorf("membership request: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return result.Member, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status())
	}
}

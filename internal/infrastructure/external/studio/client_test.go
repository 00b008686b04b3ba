package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/application/generation"
	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

func testSubmitRequest() generation.SubmitRequest {
	return generation.SubmitRequest{
		IdempotencyKey: "card-123",
		Prompt:         "fantasy RPG character card portrait",
		QualityWeight:  4,
		Selection: card.Selection{
			Level:  7,
			Border: card.BorderSilver,
			Picks: map[learning.Slot]card.Pick{
				learning.SlotRace:  {Option: "elf"},
				learning.SlotClass: {Option: "mage"},
			},
		},
	}
}

func TestSubmitSendsIdempotencyKey(t *testing.T) {
	var gotHeader string
	var gotBody SubmitJobDTO
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(JobAcceptedDTO{JobID: "job-42"})
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(server.URL))
	handle, err := client.Submit(context.Background(), testSubmitRequest())

	require.NoError(t, err)
	assert.Equal(t, shared.JobHandle("job-42"), handle)
	assert.Equal(t, "card-123", gotHeader)
	assert.Equal(t, "card-123", gotBody.IdempotencyKey)
	assert.Equal(t, 4, gotBody.QualityWeight)
	assert.Equal(t, "elf", gotBody.Attributes["race"])
}

func TestSubmitMapsServerErrorToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(server.URL))
	_, err := client.Submit(context.Background(), testSubmitRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, shared.ErrRejected)
}

func TestSubmitMapsClientErrorToRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(APIErrorDTO{Code: "CONTENT_POLICY", Message: "prompt refused"})
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(server.URL))
	_, err := client.Submit(context.Background(), testSubmitRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRejected)
}

func TestPollMapsStatuses(t *testing.T) {
	cases := []struct {
		wire string
		want generation.JobStatus
	}{
		{"queued", generation.JobPending},
		{"running", generation.JobPending},
		{"succeeded", generation.JobSucceeded},
		{"failed", generation.JobFailed},
		{"something_new", generation.JobPending},
	}

	for _, tc := range cases {
		t.Run(tc.wire, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(JobStatusDTO{
					JobID:       "job-42",
					Status:      tc.wire,
					ArtifactURL: "https://cdn/card.png",
				})
			}))
			defer server.Close()

			client := NewClient(DefaultConfig(server.URL))
			result, err := client.Poll(context.Background(), "job-42")

			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
		})
	}
}

func TestPollUnknownJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(APIErrorDTO{Code: "NOT_FOUND", Message: "no such job"})
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(server.URL))
	_, err := client.Poll(context.Background(), "gone")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStubIsIdempotentAndDeterministic(t *testing.T) {
	ctx := context.Background()
	stub := NewStub()

	h1, err := stub.Submit(ctx, testSubmitRequest())
	require.NoError(t, err)
	h2, err := stub.Submit(ctx, testSubmitRequest())
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "same idempotency key reattaches to the same job")

	first, err := stub.Poll(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, generation.JobPending, first.Status)

	second, err := stub.Poll(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, generation.JobSucceeded, second.Status)
	assert.NotEmpty(t, second.ArtifactURL)

	again, err := stub.Poll(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, second.ArtifactURL, again.ArtifactURL, "artifact URL is stable")
}

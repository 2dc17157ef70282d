//go:build e2e

package e2e

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE2E_HealthAndAuth(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("health is public", func(t *testing.T) {
		resp, err := env.Get("/health", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)

		var health map[string]string
		require.NoError(t, json.Unmarshal(resp.Data, &health))
		assert.Equal(t, "ok", health["status"])
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		_, err := env.Get("/checks", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		_, err := env.Get("/checks", "cgd_notarealtoken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})
}

func TestE2E_CheckPipeline(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	// Seed the org dictionary before submitting anything.
	resp, err := env.Post("/dictionary", map[string]string{
		"phrase":   "がんが治る",
		"category": "NG",
		"notes":    "医薬品的効能効果の標榜",
	}, env.AdminToken)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	var ngEntry struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &ngEntry))

	t.Run("text check with a violation", func(t *testing.T) {
		resp, err := env.Post("/checks", map[string]string{
			"text": "このサプリを飲めばがんが治ると評判です。",
		}, env.MemberToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.Status)

		var submitted struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &submitted))
		assert.Equal(t, "queued", submitted.Status)

		data := env.WaitForCheckStatus(submitted.ID, env.MemberToken, "completed", 30*time.Second)

		var check struct {
			ModifiedText *string `json:"modified_text"`
			Violations   []struct {
				StartPos     int     `json:"start_pos"`
				EndPos       int     `json:"end_pos"`
				Reason       string  `json:"reason"`
				DictionaryID *string `json:"dictionary_id"`
			} `json:"violations"`
		}
		require.NoError(t, json.Unmarshal(data, &check))
		require.Len(t, check.Violations, 1)
		assert.Contains(t, check.Violations[0].Reason, "がんが治る")
		require.NotNil(t, check.Violations[0].DictionaryID)
		assert.Equal(t, ngEntry.ID, *check.Violations[0].DictionaryID)
		assert.Greater(t, check.Violations[0].EndPos, check.Violations[0].StartPos)
		require.NotNil(t, check.ModifiedText)
		assert.Contains(t, *check.ModifiedText, "[要修正]")
		assert.NotContains(t, *check.ModifiedText, "がんが治る")
	})

	t.Run("clean text completes without violations", func(t *testing.T) {
		resp, err := env.Post("/checks", map[string]string{
			"text": "毎日の生活リズムを整えるお手伝いをします。",
		}, env.MemberToken)
		require.NoError(t, err)

		var submitted struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &submitted))

		data := env.WaitForCheckStatus(submitted.ID, env.MemberToken, "completed", 30*time.Second)

		var check struct {
			OriginalText string  `json:"original_text"`
			ModifiedText *string `json:"modified_text"`
			Violations   []any   `json:"violations"`
		}
		require.NoError(t, json.Unmarshal(data, &check))
		assert.Empty(t, check.Violations)
		require.NotNil(t, check.ModifiedText)
		assert.Equal(t, check.OriginalText, *check.ModifiedText)
	})

	t.Run("cancel wins over a slow detection", func(t *testing.T) {
		env.Detector.SetDelay(3 * time.Second)
		defer env.Detector.SetDelay(0)

		resp, err := env.Post("/checks", map[string]string{
			"text": "がんが治るほどの効果があります。",
		}, env.MemberToken)
		require.NoError(t, err)

		var submitted struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &submitted))

		env.WaitForCheckStatus(submitted.ID, env.MemberToken, "processing", 10*time.Second)

		cancelResp, err := env.Post("/checks/"+submitted.ID+"/cancel", nil, env.MemberToken)
		require.NoError(t, err)

		var cancelled struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(cancelResp.Data, &cancelled))
		assert.Equal(t, "cancelled", cancelled.Status)

		// The in-flight detection finishes after the cancel; its result
		// must not overwrite the terminal status.
		time.Sleep(4 * time.Second)
		getResp, err := env.Get("/checks/"+submitted.ID, env.MemberToken)
		require.NoError(t, err)

		var after struct {
			Status       string  `json:"status"`
			ModifiedText *string `json:"modified_text"`
		}
		require.NoError(t, json.Unmarshal(getResp.Data, &after))
		assert.Equal(t, "cancelled", after.Status)
		assert.Nil(t, after.ModifiedText)
	})

	t.Run("stream delivers updates then the result", func(t *testing.T) {
		env.Detector.SetDelay(500 * time.Millisecond)
		defer env.Detector.SetDelay(0)

		resp, err := env.Post("/checks", map[string]string{
			"text": "がんが治ると話題の商品です。",
		}, env.MemberToken)
		require.NoError(t, err)

		var submitted struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &submitted))

		events := env.StreamEvents(submitted.ID, env.MemberToken, 30*time.Second)
		require.NotEmpty(t, events)

		last := events[len(events)-1]
		require.Equal(t, "complete", last.Event)

		var final struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Violations []any  `json:"violations"`
		}
		require.NoError(t, json.Unmarshal(last.Data, &final))
		assert.Equal(t, submitted.ID, final.ID)
		assert.Equal(t, "completed", final.Status)
		assert.NotEmpty(t, final.Violations)

		var sawUpdate bool
		for _, ev := range events[:len(events)-1] {
			if ev.Event == "update" {
				sawUpdate = true
				var update struct {
					CheckID string `json:"check_id"`
					Status  string `json:"status"`
				}
				require.NoError(t, json.Unmarshal(ev.Data, &update))
				assert.Equal(t, submitted.ID, update.CheckID)
			}
		}
		assert.True(t, sawUpdate, "expected at least one update event before complete")
	})

	t.Run("queue status", func(t *testing.T) {
		resp, err := env.Get("/queue/status", env.MemberToken)
		require.NoError(t, err)

		var status struct {
			QueueLength     int `json:"queue_length"`
			ProcessingCount int `json:"processing_count"`
			MaxConcurrent   int `json:"max_concurrent"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &status))
		assert.Equal(t, 2, status.MaxConcurrent)
		assert.GreaterOrEqual(t, status.QueueLength, 0)
	})

	t.Run("list pagination scoped to the member", func(t *testing.T) {
		_, token := env.NewMemberToken("pagination-member")

		var ids []string
		for i := 0; i < 3; i++ {
			resp, err := env.Post("/checks", map[string]string{
				"text": fmt.Sprintf("広告文面その%dです。", i+1),
			}, token)
			require.NoError(t, err)

			var submitted struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal(resp.Data, &submitted))
			ids = append(ids, submitted.ID)
		}
		for _, id := range ids {
			env.WaitForCheckStatus(id, token, "completed", 30*time.Second)
		}

		resp, err := env.Get("/checks?limit=2", token)
		require.NoError(t, err)

		var page struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &page))
		assert.Len(t, page.Items, 2)
		assert.True(t, page.HasMore)
		require.NotEmpty(t, page.NextCursor)

		resp, err = env.Get("/checks?limit=2&cursor="+url.QueryEscape(page.NextCursor), token)
		require.NoError(t, err)

		var page2 struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
			HasMore bool `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &page2))
		assert.Len(t, page2.Items, 1)
		assert.False(t, page2.HasMore)

		// The member sees only their own submissions; the admin sees
		// the whole organization.
		adminResp, err := env.Get("/checks?limit=100", env.AdminToken)
		require.NoError(t, err)

		var adminPage struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(adminResp.Data, &adminPage))
		assert.Greater(t, len(adminPage.Items), 3)
	})
}

func TestE2E_Dictionary(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	var entryID string

	t.Run("admin creates an entry", func(t *testing.T) {
		resp, err := env.Post("/dictionary", map[string]string{
			"phrase":   "シミが消える",
			"category": "NG",
		}, env.AdminToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.Status)

		var entry struct {
			ID           string `json:"id"`
			Phrase       string `json:"phrase"`
			Category     string `json:"category"`
			HasEmbedding bool   `json:"has_embedding"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &entry))
		assert.Equal(t, "シミが消える", entry.Phrase)
		assert.Equal(t, "NG", entry.Category)
		assert.True(t, entry.HasEmbedding)
		entryID = entry.ID
	})

	t.Run("member cannot edit the dictionary", func(t *testing.T) {
		_, err := env.Post("/dictionary", map[string]string{
			"phrase":   "絶対に痩せる",
			"category": "NG",
		}, env.MemberToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")

		_, err = env.Delete("/dictionary/"+entryID, env.MemberToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("member can read the dictionary", func(t *testing.T) {
		resp, err := env.Get("/dictionary", env.MemberToken)
		require.NoError(t, err)

		var entries []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, entryID, entries[0].ID)
	})

	t.Run("admin updates the entry", func(t *testing.T) {
		resp, err := env.Put("/dictionary/"+entryID, map[string]string{
			"phrase":   "シミが薄くなる印象",
			"category": "ALLOW",
			"notes":    "化粧品の範囲内",
		}, env.AdminToken)
		require.NoError(t, err)

		var entry struct {
			Phrase   string `json:"phrase"`
			Category string `json:"category"`
			Notes    string `json:"notes"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &entry))
		assert.Equal(t, "シミが薄くなる印象", entry.Phrase)
		assert.Equal(t, "ALLOW", entry.Category)
		assert.Equal(t, "化粧品の範囲内", entry.Notes)
	})

	t.Run("embedding job runs to completion", func(t *testing.T) {
		resp, err := env.Post("/dictionary/embedding-jobs", nil, env.AdminToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.Status)

		var job struct {
			ID    string `json:"id"`
			Total int    `json:"total"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &job))
		assert.Equal(t, 1, job.Total)

		deadline := time.Now().Add(15 * time.Second)
		for {
			resp, err := env.Get("/dictionary/embedding-jobs/"+job.ID, env.AdminToken)
			require.NoError(t, err)

			var current struct {
				Status    string `json:"status"`
				Processed int    `json:"processed"`
			}
			require.NoError(t, json.Unmarshal(resp.Data, &current))
			if current.Status == "completed" {
				assert.Equal(t, 1, current.Processed)
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("embedding job stuck in status %q", current.Status)
			}
			time.Sleep(100 * time.Millisecond)
		}
	})

	t.Run("admin deletes the entry", func(t *testing.T) {
		resp, err := env.Delete("/dictionary/"+entryID, env.AdminToken)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.Status)

		_, err = env.Get("/dictionary/"+entryID, env.AdminToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestE2E_ImageCheck(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	imageData := []byte("\x89PNG\r\n\x1a\nfake-banner-bytes")

	resp, err := env.Post("/checks", map[string]string{
		"input_type":     "image",
		"image":          base64.StdEncoding.EncodeToString(imageData),
		"image_type":     "image/png",
		"extracted_text": "飲むだけでがんが治る、今なら半額。",
	}, env.MemberToken)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.Status)

	var submitted struct {
		ID        string `json:"id"`
		InputType string `json:"input_type"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	assert.Equal(t, "image", submitted.InputType)

	data := env.WaitForCheckStatus(submitted.ID, env.MemberToken, "completed", 30*time.Second)

	var check struct {
		ExtractedText string `json:"extracted_text"`
	}
	require.NoError(t, json.Unmarshal(data, &check))
	assert.True(t, strings.Contains(check.ExtractedText, "がんが治る"))

	urlResp, err := env.Get("/checks/"+submitted.ID+"/image", env.MemberToken)
	require.NoError(t, err)

	var imageURL struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(urlResp.Data, &imageURL))
	require.NotEmpty(t, imageURL.URL)

	// The presigned URL is fetchable without the API token.
	httpResp, err := http.Get(imageURL.URL)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, imageData, body)
	assert.Equal(t, "image/png", httpResp.Header.Get("Content-Type"))
}

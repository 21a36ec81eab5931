package usecase

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const cleanText = "Invoice 2024-117 issued to Northwind Traders, total due 1,250.00 EUR by March 31."

func TestAssessCleanDirectTextIsAccepted(t *testing.T) {
	q := config.DefaultTunables().Quality
	score := assessAttempt(domain.AttemptResult{
		Method:          domain.MethodDirect,
		ExtractedText:   cleanText,
		Elapsed:         time.Second,
		ExpectedLatency: 3 * time.Second,
		Source:          domain.SourceProfile{TextNative: true},
	}, q)

	if score.Overall != 1 {
		t.Fatalf("expected perfect score, got %+v", score)
	}
	if score.Recommendation != domain.RecommendAccept {
		t.Fatalf("expected ACCEPT, got %s", score.Recommendation)
	}
}

func TestAssessEmptyOrFailedAttemptScoresZero(t *testing.T) {
	q := config.DefaultTunables().Quality
	cases := []struct {
		name    string
		attempt domain.AttemptResult
		want    domain.Recommendation
	}{
		{
			name:    "empty text escalates when possible",
			attempt: domain.AttemptResult{ExtractedText: "   ", CanEscalate: true},
			want:    domain.RecommendEscalate,
		},
		{
			name:    "empty text without escalation moves on",
			attempt: domain.AttemptResult{ExtractedText: ""},
			want:    domain.RecommendRetryNext,
		},
		{
			name:    "hard error",
			attempt: domain.AttemptResult{ExtractedText: cleanText, Err: domain.ErrOCR, CanEscalate: true},
			want:    domain.RecommendEscalate,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := assessAttempt(tc.attempt, q)
			if score.Overall != 0 {
				t.Fatalf("expected overall 0, got %v", score.Overall)
			}
			if score.Recommendation != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, score.Recommendation)
			}
		})
	}
}

func TestAssessRecommendationBands(t *testing.T) {
	// text weight only, so overall equals text quality
	q := config.QualityTunables{
		TextWeight:        1,
		AcceptThreshold:   0.7,
		EscalateThreshold: 0.35,
		ArtifactRunLength: 5,
		MinTextChars:      10,
	}
	cases := []struct {
		name        string
		text        string
		canEscalate bool
		want        domain.Recommendation
	}{
		{"accept", "0123456789", false, domain.RecommendAccept},
		{"retry next", "012345", true, domain.RecommendRetryNext},
		{"escalate", "012", true, domain.RecommendEscalate},
		{"no escalation left", "012", false, domain.RecommendRetryNext},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := assessAttempt(domain.AttemptResult{ExtractedText: tc.text, CanEscalate: tc.canEscalate}, q)
			if score.Recommendation != tc.want {
				t.Fatalf("overall=%v: expected %s, got %s", score.Overall, tc.want, score.Recommendation)
			}
		})
	}
}

func TestTextQualityPenalizesArtifacts(t *testing.T) {
	clean := textQuality(cleanText, 5, 20)
	noisy := textQuality(cleanText+" ~~~~~~~~~~~~~~~~~~~~ |||||||||| ....", 5, 20)
	replacement := textQuality(strings.Repeat("�", 30)+cleanText, 5, 20)

	if clean != 1 {
		t.Fatalf("expected clean text quality 1, got %v", clean)
	}
	if noisy >= clean {
		t.Fatalf("expected artifact runs to lower quality: clean=%v noisy=%v", clean, noisy)
	}
	if replacement >= noisy {
		t.Fatalf("expected replacement characters to weigh heavily: %v", replacement)
	}
	if got := textQuality("ok...", 5, 0); got != 1 {
		t.Fatalf("expected short punctuation run below limit to be kept, got %v", got)
	}
}

func TestProcessingQualityFollowsLatency(t *testing.T) {
	fast := processingQuality(domain.AttemptResult{Elapsed: time.Second, ExpectedLatency: 2 * time.Second})
	slow := processingQuality(domain.AttemptResult{Elapsed: 8 * time.Second, ExpectedLatency: 2 * time.Second})
	failed := processingQuality(domain.AttemptResult{Err: errors.New("boom")})

	if fast != 1 || slow != 0.25 || failed != 0 {
		t.Fatalf("unexpected processing quality fast=%v slow=%v failed=%v", fast, slow, failed)
	}
}

func TestSourceQualityRatesResolution(t *testing.T) {
	native := sourceQuality(domain.SourceProfile{TextNative: true})
	sharp := sourceQuality(domain.SourceProfile{EffectiveDPI: 300})
	blurry := sourceQuality(domain.SourceProfile{EffectiveDPI: 75, Lossy: true})
	unknown := sourceQuality(domain.SourceProfile{})

	if native != 1 || sharp != 1 {
		t.Fatalf("expected native and 300dpi sources to score 1, got %v %v", native, sharp)
	}
	if blurry >= unknown || unknown != 0.5 {
		t.Fatalf("unexpected source scores blurry=%v unknown=%v", blurry, unknown)
	}
}

func TestAssessIsDeterministic(t *testing.T) {
	assessor := NewQualityAssessor(newTestStore(t, nil))
	attempt := domain.AttemptResult{
		ExtractedText:   cleanText + " ----- ",
		Elapsed:         5 * time.Second,
		ExpectedLatency: 4 * time.Second,
		Source:          domain.SourceProfile{EffectiveDPI: 150},
	}
	first := assessor.Assess(attempt)
	for i := 0; i < 10; i++ {
		if got := assessor.Assess(attempt); got != first {
			t.Fatalf("expected identical scores, got %+v and %+v", first, got)
		}
	}
}

package usecase

import (
	"strings"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

const ruleConfidence = 0.7

type rulePattern struct {
	command  string
	keywords []string
}

// Ordered: earlier patterns win, so compound phrases like "다시 읽어줘"
// resolve to repeat rather than read.
var rulePatterns = []rulePattern{
	{"repeat", []string{"다시", "한번 더", "한 번 더", "repeat", "again"}},
	{"next", []string{"다음", "넘어가", "next", "skip"}},
	{"previous", []string{"이전", "뒤로", "previous", "go back"}},
	{"slower", []string{"천천히", "느리게", "slower", "slow down"}},
	{"faster", []string{"빨리", "빠르게", "faster", "speed up"}},
	{"translate", []string{"번역", "translate"}},
	{"pause", []string{"멈춰", "정지", "일시정지", "그만", "pause", "stop"}},
	{"resume", []string{"계속", "이어서", "재생", "resume", "continue", "play"}},
	{"read", []string{"읽어", "뉴스", "기사", "read", "news"}},
	{"help", []string{"도움말", "도와줘", "help"}},
}

var translateLanguages = []struct {
	keyword string
	code    string
}{
	{"영어", "en"},
	{"english", "en"},
	{"한국", "ko"},
	{"korean", "ko"},
	{"일본", "ja"},
	{"japanese", "ja"},
	{"인도네시아", "id"},
	{"indonesian", "id"},
}

// MatchCommand resolves a transcript against the keyword rules. It never
// fails; transcripts that match nothing come back as command "none".
func MatchCommand(transcript string) *repositories.Interpretation {
	normalized := strings.ToLower(strings.TrimSpace(transcript))
	if normalized == "" {
		return &repositories.Interpretation{Command: "none"}
	}

	for _, pattern := range rulePatterns {
		for _, keyword := range pattern.keywords {
			if !strings.Contains(normalized, keyword) {
				continue
			}
			interpretation := &repositories.Interpretation{
				Command:    pattern.command,
				Confidence: ruleConfidence,
			}
			if pattern.command == "translate" {
				interpretation.Args = map[string]string{"language": translateTarget(normalized)}
			}
			return interpretation
		}
	}
	return &repositories.Interpretation{Command: "none"}
}

func translateTarget(normalized string) string {
	for _, lang := range translateLanguages {
		if strings.Contains(normalized, lang.keyword) {
			return lang.code
		}
	}
	return "en"
}

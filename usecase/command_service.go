package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/domain/repositories"
)

const (
	helpReply    = "다음 기사, 이전 기사, 다시 읽기, 일시 정지, 계속, 천천히, 빨리, 번역 같은 명령을 말할 수 있어요."
	unknownReply = "무슨 말씀인지 잘 모르겠어요. 도움말이라고 말해보세요."
	doneReply    = "기사를 다 읽었어요. 다음 기사라고 말해보세요."
)

// DispatchResult is everything one recognized utterance produced.
type DispatchResult struct {
	Command        string
	Text           string
	Audio          *repositories.RenderedAudio
	Interpretation *repositories.Interpretation
	// InterpreterErr is set when the NL interpreter failed and the keyword
	// rules answered instead. The reply is still valid.
	InterpreterErr error
}

// CommandService turns final transcripts into executed commands and spoken
// replies. The reading cursor advances sentence by sentence: Position holds
// the next sentence to read.
type CommandService struct {
	interpreter repositories.CommandInterpreter
	content     repositories.ContentStore
	renderer    repositories.SpeechRenderer
	logger      *zap.Logger
}

// NewCommandService creates a new command service
func NewCommandService(
	interpreter repositories.CommandInterpreter,
	content repositories.ContentStore,
	renderer repositories.SpeechRenderer,
	logger *zap.Logger,
) *CommandService {
	return &CommandService{
		interpreter: interpreter,
		content:     content,
		renderer:    renderer,
		logger:      logger,
	}
}

// Dispatch interprets the transcript with the NL interpreter, falling back
// to the keyword rules when it fails.
func (s *CommandService) Dispatch(ctx context.Context, convo *entities.ConversationContext, transcript string) (*DispatchResult, error) {
	var interpretation *repositories.Interpretation
	var interpErr error

	if s.interpreter != nil {
		interpretation, interpErr = s.interpreter.Interpret(ctx, transcript, convo.Render(time.Now()))
		if interpErr != nil {
			s.logger.Warn("interpreter failed, using keyword rules", zap.Error(interpErr))
		}
	}
	if interpretation == nil {
		interpretation = MatchCommand(transcript)
	}

	result, err := s.execute(ctx, convo, transcript, interpretation)
	if result != nil {
		result.InterpreterErr = interpErr
	}
	return result, err
}

// DispatchRules skips the interpreter entirely. Used when NL interpretation
// has been degraded away.
func (s *CommandService) DispatchRules(ctx context.Context, convo *entities.ConversationContext, transcript string) (*DispatchResult, error) {
	return s.execute(ctx, convo, transcript, MatchCommand(transcript))
}

// Interpret runs only the NL interpretation step, without executing the
// command. Recovery probes use it to test the interpreter safely.
func (s *CommandService) Interpret(ctx context.Context, convo *entities.ConversationContext, transcript string) (*repositories.Interpretation, error) {
	if s.interpreter == nil {
		return MatchCommand(transcript), nil
	}
	return s.interpreter.Interpret(ctx, transcript, convo.Render(time.Now()))
}

func (s *CommandService) execute(ctx context.Context, convo *entities.ConversationContext, transcript string, interpretation *repositories.Interpretation) (*DispatchResult, error) {
	text, err := s.run(ctx, convo, interpretation)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	convo.AddTurn("user", transcript, now)
	convo.AddTurn("assistant", text, now)
	if interpretation.Command != "none" {
		convo.RecordCommand(interpretation.Command, now)
	}

	result := &DispatchResult{
		Command:        interpretation.Command,
		Text:           text,
		Interpretation: interpretation,
	}

	if s.renderer != nil {
		audio, renderErr := s.renderer.Render(ctx, text, convo.Preferences().Language)
		if renderErr != nil {
			s.logger.Warn("speech rendering failed, replying with text only", zap.Error(renderErr))
		} else {
			result.Audio = audio
			convo.AddListenTime(time.Duration(audio.DurationMs) * time.Millisecond)
		}
	}

	s.logger.Info("dispatched command",
		zap.String("command", interpretation.Command),
		zap.Float64("confidence", interpretation.Confidence))
	return result, nil
}

func (s *CommandService) run(ctx context.Context, convo *entities.ConversationContext, interpretation *repositories.Interpretation) (string, error) {
	switch interpretation.Command {
	case "next":
		return s.moveTo(ctx, convo, s.content.NextArticle, "더 읽을 기사가 없어요.")
	case "previous":
		return s.moveTo(ctx, convo, s.content.PreviousArticle, "이전 기사가 없어요.")
	case "read", "resume":
		return s.readCurrent(ctx, convo)
	case "repeat":
		return s.repeatSentence(ctx, convo)
	case "pause":
		return "잠시 멈출게요. 계속이라고 말하면 이어서 읽어요.", nil
	case "slower":
		speed := convo.AdjustSpeed(-0.25)
		return fmt.Sprintf("속도를 %.2f배로 맞췄어요.", speed), nil
	case "faster":
		speed := convo.AdjustSpeed(0.25)
		return fmt.Sprintf("속도를 %.2f배로 맞췄어요.", speed), nil
	case "translate":
		return s.translate(convo, interpretation.Args), nil
	case "help":
		return helpReply, nil
	case "none":
		if interpretation.Reply != "" {
			return interpretation.Reply, nil
		}
		return unknownReply, nil
	default:
		s.logger.Warn("interpreter produced unknown command",
			zap.String("command", interpretation.Command))
		if interpretation.Reply != "" {
			return interpretation.Reply, nil
		}
		return unknownReply, nil
	}
}

// moveTo steps to an adjacent article and reads its opening sentence.
func (s *CommandService) moveTo(ctx context.Context, convo *entities.ConversationContext, step func(context.Context, string) (*entities.Article, error), edgeReply string) (string, error) {
	article, err := step(ctx, convo.Position().ArticleID)
	if err != nil {
		if errors.Is(err, entities.ErrNoMoreArticles) || errors.Is(err, entities.ErrArticleNotFound) {
			return edgeReply, nil
		}
		return "", fmt.Errorf("failed to step through articles: %w", err)
	}

	sentence, err := article.Sentence(0)
	if err != nil {
		return "", err
	}
	convo.SetPosition(entities.Position{ArticleID: article.ID, SentenceIndex: 1})
	return article.Title + ". " + sentence, nil
}

// readCurrent reads the sentence at the cursor and advances it.
func (s *CommandService) readCurrent(ctx context.Context, convo *entities.ConversationContext) (string, error) {
	position := convo.Position()
	if position.ArticleID == "" {
		return s.moveTo(ctx, convo, s.content.NextArticle, "읽을 수 있는 기사가 아직 없어요.")
	}

	sentence, err := s.content.GetSentence(ctx, position.ArticleID, position.SentenceIndex)
	if err != nil {
		if errors.Is(err, entities.ErrSentenceOutOfRange) {
			return doneReply, nil
		}
		if errors.Is(err, entities.ErrArticleNotFound) {
			return "읽고 있던 기사를 찾을 수 없어요.", nil
		}
		return "", fmt.Errorf("failed to read sentence: %w", err)
	}

	convo.SetPosition(entities.Position{ArticleID: position.ArticleID, SentenceIndex: position.SentenceIndex + 1})
	return sentence, nil
}

// repeatSentence re-reads the last read sentence without moving the cursor.
func (s *CommandService) repeatSentence(ctx context.Context, convo *entities.ConversationContext) (string, error) {
	position := convo.Position()
	if position.ArticleID == "" {
		return "아직 읽은 기사가 없어요.", nil
	}

	index := position.SentenceIndex - 1
	if index < 0 {
		index = 0
	}
	sentence, err := s.content.GetSentence(ctx, position.ArticleID, index)
	if err != nil {
		if errors.Is(err, entities.ErrSentenceOutOfRange) || errors.Is(err, entities.ErrArticleNotFound) {
			return "다시 읽을 문장이 없어요.", nil
		}
		return "", fmt.Errorf("failed to repeat sentence: %w", err)
	}
	return sentence, nil
}

// translate switches the reply language preference.
func (s *CommandService) translate(convo *entities.ConversationContext, args map[string]string) string {
	target := args["language"]
	if target == "" {
		target = "en"
	}

	prefs := convo.Preferences()
	prefs.Language = target
	convo.SetPreferences(prefs)

	switch target {
	case "en":
		return "이제 영어로 안내할게요."
	case "ko":
		return "이제 한국어로 안내할게요."
	case "ja":
		return "이제 일본어로 안내할게요."
	default:
		return fmt.Sprintf("이제 %s 언어로 안내할게요.", target)
	}
}

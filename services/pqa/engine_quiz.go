// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pqa

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// StartQuiz opens a quiz whose belief is the target baseline.
//
// Outputs:
//
//	int64 - Compact id of the new quiz.
//	error - ErrWrongMode outside Regular mode.
func (e *Engine) StartQuiz(ctx context.Context) (id int64, err error) {
	const op = "StartQuiz"
	ctx, sc := startOp(ctx, op)
	defer func() { sc.finish(err) }()
	return e.createQuiz(ctx, op, createQuizOp{kind: opStart})
}

// ResumeQuiz opens a quiz and replays answered in order.
//
// Description:
//
//	The belief starts from the target baseline and is multiplied by the
//	likelihood of each pair, duplicates included. The result does not
//	depend on the order of answered beyond floating-point rounding. The
//	pairs become the quiz history and their questions count as asked.
//
// Outputs:
//
//	int64 - Compact id of the new quiz.
//	error - ErrInvalidID if any pair names an unknown or removed question
//	or an out-of-range answer; nothing is created then.
func (e *Engine) ResumeQuiz(ctx context.Context, answered []AnsweredQuestion) (id int64, err error) {
	const op = "ResumeQuiz"
	ctx, sc := startOp(ctx, op, attribute.Int("answered", len(answered)))
	defer func() { sc.finish(err) }()
	return e.createQuiz(ctx, op, createQuizOp{kind: opResume, answered: answered})
}

func (e *Engine) createQuiz(ctx context.Context, op string, c createQuizOp) (int64, error) {
	if err := e.beginShared(op, ModeRegular); err != nil {
		return InvalidID, err
	}
	defer e.structMu.RUnlock()

	t := e.newTask(ctx, op)
	if err := c.validate(t); err != nil {
		return InvalidID, err
	}
	dims := e.kb.Dims()
	qz := newQuiz(e.generation, dims.Questions, dims.Targets, time.Now())
	if err := c.run(t, qz); err != nil {
		return InvalidID, err
	}
	id := e.quizzes.insert(qz)
	t.logger.Debug("quiz created",
		slog.Int64("quiz", id),
		slog.String("kind", c.kind.String()),
		slog.Int("answered", len(c.answered)),
	)
	return id, nil
}

// ActiveQuestionID returns the question awaiting an answer in quiz, or
// InvalidID when there is none.
func (e *Engine) ActiveQuestionID(quiz int64) (int64, error) {
	const op = "ActiveQuestionID"
	if err := e.beginShared(op, ModeRegular); err != nil {
		return InvalidID, err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return InvalidID, err
	}
	return qz.active, nil
}

// SetActiveQuestion makes question the one awaiting an answer in quiz and
// marks it asked. Used when a resumed quiz was interrupted mid-question.
func (e *Engine) SetActiveQuestion(quiz, question int64) error {
	const op = "SetActiveQuestion"
	if err := e.beginShared(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return err
	}
	if !e.kb.QuestionLive(question) {
		return errorf(CodeInvalidID, op, "question %d", question)
	}
	qz.active = question
	qz.asked[question] = true
	return nil
}

// NextQuestion picks the most informative question not yet asked in quiz.
//
// Description:
//
//	Candidates are scored by expected information gain over the quiz's
//	current belief. The winner becomes the active question and counts as
//	asked, so calling NextQuestion again without RecordAnswer moves on to
//	the next best candidate.
//
// Outputs:
//
//	int64 - Compact question id, or InvalidID when every question has been
//	asked.
//	error - ErrInvalidID for an unknown quiz, ErrStaleDimensions for a
//	quiz older than the last dimension change.
func (e *Engine) NextQuestion(ctx context.Context, quiz int64) (question int64, err error) {
	const op = "NextQuestion"
	ctx, sc := startOp(ctx, op, attribute.Int64("quiz", quiz))
	defer func() { sc.finish(err) }()

	if err := e.beginShared(op, ModeRegular); err != nil {
		return InvalidID, err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return InvalidID, err
	}

	t := e.newTask(ctx, op)
	question, err = t.nextQuestion(qz)
	if err != nil {
		return InvalidID, err
	}
	if question == InvalidID {
		t.logger.Debug("quiz exhausted", slog.Int64("quiz", quiz))
		return InvalidID, nil
	}
	qz.active = question
	qz.asked[question] = true
	sc.span.SetAttributes(attribute.Int64("question", question))
	return question, nil
}

// RecordAnswer applies answer to the quiz's active question.
//
// Description:
//
//	The belief is multiplied by the answer's likelihood row, the pair is
//	appended to the history and the quiz has no active question afterwards.
//	The engine-wide asked counter grows by one.
//
// Outputs:
//
//	error - ErrInvalidID for an unknown quiz, a quiz without an active
//	question, or an out-of-range answer.
func (e *Engine) RecordAnswer(ctx context.Context, quiz, answer int64) (err error) {
	const op = "RecordAnswer"
	ctx, sc := startOp(ctx, op, attribute.Int64("quiz", quiz), attribute.Int64("answer", answer))
	defer func() { sc.finish(err) }()

	if err := e.beginShared(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return err
	}
	if qz.active == InvalidID {
		return errorf(CodeInvalidID, op, "quiz %d has no active question", quiz)
	}
	if answer < 0 || answer >= e.kb.Dims().Answers {
		return errorf(CodeInvalidID, op, "answer %d", answer)
	}

	aq := AnsweredQuestion{Question: qz.active, Answer: answer}
	t := e.newTask(ctx, op)
	if err := t.applyAnswers(qz.belief, []AnsweredQuestion{aq}); err != nil {
		return err
	}
	qz.markAnswered(aq)
	qz.active = InvalidID
	e.nAsked.Add(1)
	questionsAsked.Inc()
	return nil
}

// RecordQuizTarget trains the knowledge base with the quiz's answered
// questions leading to target. May be called any number of times at any
// point of the quiz.
func (e *Engine) RecordQuizTarget(ctx context.Context, quiz, target int64, amount float64) (err error) {
	const op = "RecordQuizTarget"
	_, sc := startOp(ctx, op, attribute.Int64("quiz", quiz), attribute.Int64("target", target))
	defer func() { sc.finish(err) }()

	if err := e.beginShared(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return err
	}
	return e.trainLocked(op, qz.history, target, amount)
}

// ReleaseQuiz closes a quiz. Valid only in Regular mode.
func (e *Engine) ReleaseQuiz(quiz int64) error {
	const op = "ReleaseQuiz"
	if err := e.beginShared(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	if !e.quizzes.remove(quiz) {
		return errorf(CodeInvalidID, op, "quiz %d", quiz)
	}
	return nil
}

// ClearOldQuizzes keeps at most maxCount most recently used quizzes and
// releases quizzes idle longer than maxAge. A negative argument disables
// that limit; ClearOldQuizzes(0, 0) releases every quiz. Valid only in
// Regular mode.
//
// Outputs:
//
//	int - Number of quizzes released.
func (e *Engine) ClearOldQuizzes(maxCount int64, maxAge time.Duration) (int, error) {
	const op = "ClearOldQuizzes"
	if err := e.beginShared(op, ModeRegular); err != nil {
		return 0, err
	}
	defer e.structMu.RUnlock()
	n := e.quizzes.clearOld(maxCount, maxAge)
	if n > 0 {
		e.log().Debug("released old quizzes",
			slog.Int("released", n),
			slog.Int64("max_count", maxCount),
			slog.Duration("max_age", maxAge),
		)
	}
	return n, nil
}

// QuizCount returns the number of open quizzes.
func (e *Engine) QuizCount() int {
	return e.quizzes.len()
}

package cli

import "github.com/ppiankov/tribuna/internal/pipeline"

func init() {
	rootCmd.AddCommand(newStageCommand(pipeline.StageCompile,
		"Compile debates into annotated documents",
		`Compile merges the segment store of each debate with its annotation
layers (blocks, topics, proposals, claims, mentions) into one hierarchical
document, written to debate-<id>.json together with its diagnostics.

Without arguments every debate found in the corpus is compiled.

Example:
  tribuna compile
  tribuna compile 2015-12-14 2019-11-04
  tribuna compile -f debates.txt --workers 4`))

	rootCmd.AddCommand(newStageCommand(pipeline.StageEmotions,
		"Label every sentence of compiled documents with an emotion",
		`Emotions classifies each sentence of already compiled documents as one of
anger, disgust, fear, joy, sadness, surprise or neutral, using the
configured backend (llm or service). Labels are overwritten on re-runs.
Failed classifications leave the sentence unlabelled and are recorded as
classification_failed diagnostics.

Example:
  tribuna emotions 2015-12-14
  TRIBUNA_EMOTION_BACKEND=service TRIBUNA_EMOTION_SERVICE_URL=http://localhost:8001 tribuna emotions`))

	rootCmd.AddCommand(newStageCommand(pipeline.StageReport,
		"Render Markdown reports from compiled documents",
		`Report writes debate-<id>.md next to each compiled document: participants,
blocks with their topics, proposals and claims, unanchored annotations,
emotion distribution and diagnostics.`))

	rootCmd.AddCommand(newStageCommand(pipeline.StageValidate,
		"Re-check the invariants of compiled documents",
		`Validate reloads compiled documents and their diagnostics and checks span
containment, sibling ordering and overlap, and layer accounting. Debates
with violations are reported as failures.`))

	rootCmd.AddCommand(newStageCommand(pipeline.StageRun,
		"Compile, annotate and report debates",
		`Run chains compile, emotions and report for each debate.

Example:
  tribuna run
  tribuna run 2023-07-10 --skip-emotions`))
}

// Package digest holds the vocabulary of the topic-to-summary pipeline.
//
// A run turns a topic into Candidates (feed stage), each Candidate into a
// Resolution (link stage) and an Extraction (content stage), accepted
// extractions into Outcomes (summarization stage), and finally everything into a
// PipelineResult. Stage implementations live in sibling packages and are wired
// together through the interfaces declared here, so tests and alternative
// backends can replace any of them.
//
// Failures never cross a stage boundary as errors. Feeds and extractions degrade
// to empty values, resolutions fall back to the original link, and summaries
// carry a FailureKind that is only turned into a user-facing sentinel string by
// Outcome.Display.
package digest

package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// pipelineFile is the optional PIPELINE_CONFIG_FILE document. Keys mirror
// the pipeline environment variables; values present in the file override
// the environment. Pointers distinguish "absent" from zero values.
type pipelineFile struct {
	EnableMemory              *bool    `yaml:"enable_memory"`
	MemorySimilarityThreshold *float64 `yaml:"memory_similarity_threshold"`

	EnableChunkClassification      *bool `yaml:"enable_chunk_classification"`
	EnableSubquestionAmplification *bool `yaml:"enable_subquestion_amplification"`
	EnableAnswerVerification       *bool `yaml:"enable_answer_verification"`
	EnableDialogRetrieval          *bool `yaml:"enable_dialog_retrieval"`

	VerificationThreshold         *float64 `yaml:"verification_threshold"`
	MaxSubquestions               *int     `yaml:"max_subquestions"`
	AmplificationMinContextLength *int     `yaml:"amplification_min_context_length"`
	ClassifyConcurrency           *int     `yaml:"classify_concurrency"`
	SubQConcurrency               *int     `yaml:"subq_concurrency"`
	PipelineTimeoutSeconds        *int     `yaml:"pipeline_timeout_seconds"`
}

func applyPipelineFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	var f pipelineFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}

	if f.EnableMemory != nil {
		cfg.EnableMemory = *f.EnableMemory
	}
	if f.MemorySimilarityThreshold != nil {
		cfg.MemorySimilarityThreshold = *f.MemorySimilarityThreshold
	}
	if f.EnableChunkClassification != nil {
		cfg.EnableChunkClassification = *f.EnableChunkClassification
	}
	if f.EnableSubquestionAmplification != nil {
		cfg.EnableSubquestionAmplification = *f.EnableSubquestionAmplification
	}
	if f.EnableAnswerVerification != nil {
		cfg.EnableAnswerVerification = *f.EnableAnswerVerification
	}
	if f.EnableDialogRetrieval != nil {
		cfg.EnableDialogRetrieval = *f.EnableDialogRetrieval
	}
	if f.VerificationThreshold != nil {
		cfg.VerificationThreshold = *f.VerificationThreshold
	}
	if f.MaxSubquestions != nil {
		cfg.MaxSubquestions = *f.MaxSubquestions
	}
	if f.AmplificationMinContextLength != nil {
		cfg.AmplificationMinContextLength = *f.AmplificationMinContextLength
	}
	if f.ClassifyConcurrency != nil {
		cfg.ClassifyConcurrency = *f.ClassifyConcurrency
	}
	if f.SubQConcurrency != nil {
		cfg.SubQConcurrency = *f.SubQConcurrency
	}
	if f.PipelineTimeoutSeconds != nil {
		cfg.PipelineTimeout = time.Duration(*f.PipelineTimeoutSeconds) * time.Second
	}
	return nil
}

package providers

// Backend names known to the factory
const (
	BackendDeepSeek  = "deepseek"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendXAI       = "xai"
	BackendGemini    = "gemini"
)

// Profile is the static description of a vendor
type Profile struct {
	// Name is the backend name
	Name string

	// BaseURL is the vendor API endpoint; empty means the SDK default
	BaseURL string

	// DefaultModel is used when no task model applies
	DefaultModel string

	// HealthModel is the cheap model used for health probes
	HealthModel string

	// SupportedTasks lists the task types the vendor is tuned for
	SupportedTasks []TaskType

	// Models maps task types to preferred models
	Models map[TaskType]ModelChoice

	// StaticModels is returned by ListModels when the vendor cannot be queried
	StaticModels []string
}

// KnownBackends returns the backend names in their default registration order
func KnownBackends() []string {
	return []string{BackendDeepSeek, BackendOpenAI, BackendAnthropic, BackendXAI, BackendGemini}
}

// ProfileFor returns the built-in profile for a backend name
func ProfileFor(name string) (Profile, bool) {
	switch name {
	case BackendDeepSeek:
		return DeepSeekProfile(), true
	case BackendOpenAI:
		return OpenAIProfile(), true
	case BackendAnthropic:
		return AnthropicProfile(), true
	case BackendXAI:
		return XAIProfile(), true
	case BackendGemini:
		return GeminiProfile(), true
	}
	return Profile{}, false
}

func DeepSeekProfile() Profile {
	return Profile{
		Name:         BackendDeepSeek,
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
		HealthModel:  "deepseek-chat",
		SupportedTasks: []TaskType{
			TaskConversation,
			TaskTechnical,
			TaskCodeGeneration,
			TaskAnalysis,
			TaskProblemSolving,
			TaskSummarization,
		},
		Models: map[TaskType]ModelChoice{
			TaskConversation:   {Primary: "deepseek-chat"},
			TaskTechnical:      {Primary: "deepseek-coder"},
			TaskCodeGeneration: {Primary: "deepseek-coder"},
			TaskAnalysis:       {Primary: "deepseek-chat"},
			TaskProblemSolving: {Primary: "deepseek-chat"},
			TaskSummarization:  {Primary: "deepseek-chat"},
		},
		StaticModels: []string{"deepseek-chat", "deepseek-coder"},
	}
}

func OpenAIProfile() Profile {
	gpt4First := ModelChoice{Primary: "gpt-4", Fallback: "gpt-3.5-turbo"}
	turboFirst := ModelChoice{Primary: "gpt-3.5-turbo", Fallback: "gpt-4"}

	return Profile{
		Name:         BackendOpenAI,
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4",
		HealthModel:  "gpt-3.5-turbo",
		SupportedTasks: []TaskType{
			TaskConversation,
			TaskCreative,
			TaskProblemSolving,
			TaskAnalysis,
			TaskCodeGeneration,
			TaskSummarization,
			TaskTranslation,
		},
		Models: map[TaskType]ModelChoice{
			TaskConversation:   gpt4First,
			TaskCreative:       gpt4First,
			TaskProblemSolving: gpt4First,
			TaskAnalysis:       gpt4First,
			TaskCodeGeneration: gpt4First,
			TaskSummarization:  turboFirst,
			TaskTranslation:    turboFirst,
		},
		StaticModels: []string{"gpt-4", "gpt-3.5-turbo"},
	}
}

func AnthropicProfile() Profile {
	const (
		opus   = "claude-3-opus-20240229"
		sonnet = "claude-3-sonnet-20240229"
		haiku  = "claude-3-haiku-20240307"
	)

	return Profile{
		Name:         BackendAnthropic,
		DefaultModel: sonnet,
		HealthModel:  haiku,
		SupportedTasks: []TaskType{
			TaskConversation,
			TaskAnalysis,
			TaskEmotionalSupport,
			TaskSummarization,
			TaskCreative,
			TaskProblemSolving,
			TaskResearch,
		},
		Models: map[TaskType]ModelChoice{
			TaskConversation:     {Primary: sonnet},
			TaskAnalysis:         {Primary: opus, Fallback: sonnet},
			TaskEmotionalSupport: {Primary: sonnet},
			TaskSummarization:    {Primary: haiku, Fallback: sonnet},
			TaskCreative:         {Primary: opus, Fallback: sonnet},
			TaskProblemSolving:   {Primary: opus, Fallback: sonnet},
			TaskResearch:         {Primary: opus, Fallback: sonnet},
		},
		StaticModels: []string{opus, sonnet, haiku},
	}
}

func XAIProfile() Profile {
	grok := ModelChoice{Primary: "grok-beta"}

	return Profile{
		Name:         BackendXAI,
		BaseURL:      "https://api.x.ai/v1",
		DefaultModel: "grok-beta",
		HealthModel:  "grok-beta",
		SupportedTasks: []TaskType{
			TaskConversation,
			TaskCreative,
			TaskAnalysis,
			TaskProblemSolving,
			TaskResearch,
			TaskTechnical,
		},
		Models: map[TaskType]ModelChoice{
			TaskConversation:   grok,
			TaskCreative:       grok,
			TaskAnalysis:       grok,
			TaskProblemSolving: grok,
			TaskResearch:       grok,
			TaskTechnical:      grok,
		},
		StaticModels: []string{"grok-beta"},
	}
}

func GeminiProfile() Profile {
	pro := ModelChoice{Primary: "gemini-pro"}

	return Profile{
		Name:         BackendGemini,
		DefaultModel: "gemini-pro",
		HealthModel:  "gemini-pro",
		SupportedTasks: []TaskType{
			TaskConversation,
			TaskResearch,
			TaskTranslation,
			TaskSummarization,
			TaskAnalysis,
			TaskCreative,
			TaskProblemSolving,
		},
		Models: map[TaskType]ModelChoice{
			TaskConversation:   pro,
			TaskResearch:       pro,
			TaskTranslation:    pro,
			TaskSummarization:  pro,
			TaskAnalysis:       pro,
			TaskCreative:       pro,
			TaskProblemSolving: pro,
		},
		StaticModels: []string{"gemini-pro"},
	}
}

// RoutingPreference is the ordered backend list for one task type
type RoutingPreference struct {
	TaskType      TaskType `json:"task_type" yaml:"-"`
	Primary       string   `json:"primary" yaml:"primary"`
	FallbackChain []string `json:"fallback_chain" yaml:"fallback"`
}

// Candidates returns primary followed by the chain, without duplicates
func (p RoutingPreference) Candidates() []string {
	seen := make(map[string]struct{}, len(p.FallbackChain)+1)
	out := make([]string, 0, len(p.FallbackChain)+1)
	for _, name := range append([]string{p.Primary}, p.FallbackChain...) {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// DefaultPreferences returns the built-in routing table
func DefaultPreferences() []RoutingPreference {
	pref := func(task TaskType, primary string, chain ...string) RoutingPreference {
		return RoutingPreference{TaskType: task, Primary: primary, FallbackChain: chain}
	}

	return []RoutingPreference{
		pref(TaskConversation, BackendDeepSeek, BackendOpenAI, BackendAnthropic, BackendGemini, BackendXAI),
		pref(TaskAnalysis, BackendAnthropic, BackendOpenAI, BackendDeepSeek, BackendGemini, BackendXAI),
		pref(TaskCreative, BackendOpenAI, BackendAnthropic, BackendDeepSeek, BackendGemini, BackendXAI),
		pref(TaskTechnical, BackendDeepSeek, BackendOpenAI, BackendAnthropic, BackendXAI, BackendGemini),
		pref(TaskCodeGeneration, BackendDeepSeek, BackendOpenAI, BackendAnthropic, BackendXAI, BackendGemini),
		pref(TaskResearch, BackendGemini, BackendAnthropic, BackendOpenAI, BackendDeepSeek, BackendXAI),
		pref(TaskEmotionalSupport, BackendAnthropic, BackendOpenAI, BackendDeepSeek, BackendGemini, BackendXAI),
		pref(TaskProblemSolving, BackendOpenAI, BackendAnthropic, BackendDeepSeek, BackendXAI, BackendGemini),
		pref(TaskSummarization, BackendAnthropic, BackendOpenAI, BackendDeepSeek, BackendGemini, BackendXAI),
		pref(TaskTranslation, BackendGemini, BackendOpenAI, BackendAnthropic, BackendDeepSeek, BackendXAI),
	}
}

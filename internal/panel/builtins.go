package panel

import "github.com/contextpilot/pilot/internal/session"

// registerBuiltins installs every handler that needs no injected
// collaborator. Handlers with real dependencies (LogsHandler needs a
// persistence.Layout, MemoryHandler needs a Recaller, GithubResultHandler
// and TmuxHandler wrap external commands) are registered by the
// process entrypoint once those collaborators exist, via Register.
func registerBuiltins(r *Registry) {
	r.Register(session.PanelFile, FileHandler{})
	r.Register(session.PanelTree, TreeHandler{})
	r.Register(session.PanelGrep, GrepHandler{})
	r.Register(session.PanelGlob, GlobHandler{})
	r.Register(session.PanelGit, GitHandler{})
	r.Register(session.PanelGitResult, GitResultHandler{})
	r.Register(session.PanelConversation, ConversationHandler{})
	r.Register(session.PanelConversationHistory, ConversationHistoryHandler{})
	r.Register(session.PanelOverview, OverviewHandler{})
	r.Register(session.PanelTodo, TodoHandler{})
	r.Register(session.PanelSpine, SpineHandler{})
	r.Register(session.PanelTools, ToolsHandler{})
	r.Register(session.PanelScratchpad, ScratchpadHandler{})
	r.Register(session.PanelLibrary, LibraryHandler{})
	r.Register(session.PanelSkill, SkillHandler{})
	r.Register(session.PanelSeed, SeedHandler{})
	r.Register(session.PanelConsole, ConsoleHandler{})
	r.Register(session.PanelCallback, CallbackHandler{})
}

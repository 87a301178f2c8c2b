package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aeolun/ninechess/pkg/client"
	"github.com/aeolun/ninechess/pkg/protocol"
)

const maxLogLines = 200

// Conn is the part of client.Connection the UI needs
type Conn interface {
	Send(msg protocol.Message) error
	Incoming() <-chan protocol.Message
	GetAddress() string
}

// ServerMsg wraps an incoming server message
type ServerMsg struct {
	Message protocol.Message
}

// DisconnectedMsg is sent when the server closes the session
type DisconnectedMsg struct{}

// ErrorMsg represents a failed send
type ErrorMsg struct {
	Err error
}

// Model is the terminal client state
type Model struct {
	conn  Conn
	input textinput.Model

	username  string
	color     string // "white" or "black" while playing
	opponent  string
	board     protocol.Board
	turn      string
	inCheck   bool
	status    string
	connected bool

	log    []string
	width  int
	height int
}

// NewModel creates the client UI for an established connection
func NewModel(conn Conn) Model {
	input := textinput.New()
	input.Placeholder = "/login <user> <password>  or  /help"
	input.Prompt = "> "
	input.CharLimit = 256
	input.Focus()

	m := Model{
		conn:      conn,
		input:     input,
		connected: true,
	}
	m.addLog(StatusStyle.Render("Connected to " + conn.GetAddress() + ". Type /help for commands."))
	return m
}

// Init starts listening for server messages
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listenForServerMessages(m.conn))
}

// listenForServerMessages waits for the next message from the server
func listenForServerMessages(conn Conn) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-conn.Incoming()
		if !ok {
			return DisconnectedMsg{}
		}
		return ServerMsg{Message: msg}
	}
}

func sendCmd(conn Conn, msg protocol.Message) tea.Cmd {
	return func() tea.Msg {
		if err := conn.Send(msg); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

// Update handles keys, server messages and resizes
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case ServerMsg:
		m.handleServerMessage(msg.Message)
		return m, listenForServerMessages(m.conn)

	case DisconnectedMsg:
		m.connected = false
		m.addLog(ErrorStyle.Render("Disconnected from server. Press Esc to quit."))
		return m, nil

	case ErrorMsg:
		m.addLog(ErrorStyle.Render("Send failed: " + msg.Err.Error()))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return m, nil
	}

	req, err := parseCommand(line)
	switch {
	case err == errQuit:
		return m, tea.Quit
	case err == errHelp:
		for _, l := range strings.Split(helpText, "\n") {
			m.addLog(StatusStyle.Render(l))
		}
		return m, nil
	case err != nil:
		m.addLog(WarningStyle.Render(err.Error()))
		return m, nil
	case req == nil:
		return m, nil
	}

	if !m.connected {
		m.addLog(ErrorStyle.Render("Not connected"))
		return m, nil
	}
	return m, sendCmd(m.conn, req)
}

func (m *Model) handleServerMessage(msg protocol.Message) {
	switch msg := msg.(type) {
	case *protocol.LoginResponse:
		if !msg.Success {
			m.addLog(ErrorStyle.Render("Login failed: " + msg.Message))
			return
		}
		m.username = msg.Username
		line := "Logged in as " + msg.Username
		if msg.Stats != nil {
			line += fmt.Sprintf(" (rating %d, %d-%d-%d)", msg.Stats.Rating, msg.Stats.Wins, msg.Stats.Losses, msg.Stats.Draws)
		}
		m.addLog(SuccessStyle.Render(line))

	case *protocol.RegisterResponse:
		m.addResult(msg.Success, msg.Message)
	case *protocol.ResetResponse:
		m.addResult(msg.Success, msg.Message)
	case *protocol.ResetPasswordResponse:
		m.addResult(msg.Success, msg.Message)
	case *protocol.QueueResponse:
		m.addResult(msg.Success, msg.Message)

	case *protocol.GameStart:
		m.color = msg.Color
		m.opponent = msg.Opponent
		m.board = msg.Board
		m.turn = "white"
		m.inCheck = false
		m.status = ""
		m.addLog(SuccessStyle.Render(fmt.Sprintf("Game started against %s, you play %s", msg.Opponent, msg.Color)))

	case *protocol.MoveResponse:
		if !msg.Success {
			m.addLog(WarningStyle.Render("Move rejected: " + msg.Message))
			return
		}
		m.board = msg.Board
		m.turn = msg.Turn
		m.inCheck = msg.InCheck
		m.status = msg.GameStatus
		if msg.Captured != "" {
			m.addLog(StatusStyle.Render("Captured " + msg.Captured))
		}
		if msg.Promotion != "" {
			m.addLog(StatusStyle.Render("Promoted to " + msg.Promotion))
		}

	case *protocol.OpponentMove:
		m.board = msg.Board
		m.turn = msg.Turn
		m.inCheck = msg.InCheck
		m.addLog(StatusStyle.Render(fmt.Sprintf("%s moved %s", m.opponent, describeMove(msg.From, msg.To))))
		if msg.InCheck {
			m.addLog(WarningStyle.Render("Check!"))
		}

	case *protocol.GameEnd:
		style := StatusStyle
		switch msg.Result {
		case protocol.ResultWin:
			style = SuccessStyle
		case protocol.ResultLoss:
			style = ErrorStyle
		}
		m.addLog(style.Render(fmt.Sprintf("Game over: %s (%s)", msg.Result, strings.ReplaceAll(msg.Reason, "_", " "))))
		m.color = ""

	case *protocol.ErrorMessage:
		m.addLog(ErrorStyle.Render("Error: " + msg.Message))
	}
}

func (m *Model) addResult(success bool, text string) {
	if success {
		m.addLog(SuccessStyle.Render(text))
	} else {
		m.addLog(ErrorStyle.Render(text))
	}
}

func (m *Model) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func describeMove(from, to []int) string {
	return squareName(from) + "-" + squareName(to)
}

func squareName(pair []int) string {
	if len(pair) != 2 {
		return "?"
	}
	return fmt.Sprintf("%c%d", 'a'+pair[1], 9-pair[0])
}

// View renders the board beside the message log
func (m Model) View() string {
	header := HeaderStyle.Render("ninechess")
	if m.username != "" {
		header += StatusStyle.Render("logged in as " + m.username)
	}

	var boardPane string
	if m.board != nil {
		title := fmt.Sprintf("%s vs %s", m.username, m.opponent)
		if m.color != "" {
			title += fmt.Sprintf(" (you are %s)", m.color)
		}
		turn := TurnStyle.Render(m.turn + " to move")
		if m.inCheck {
			turn += ErrorStyle.Render("  check")
		}
		if m.status == "checkmate" || m.status == "stalemate" {
			turn = TurnStyle.Render(m.status)
		}
		boardPane = BoardStyle.Render(title + "\n\n" + client.FormatBoard(m.board) + "\n" + turn)
	}

	logLines := m.log
	if h := m.height - 8; h > 0 && len(logLines) > h {
		logLines = logLines[len(logLines)-h:]
	}
	logPane := LogStyle.Render(strings.Join(logLines, "\n"))

	body := logPane
	if boardPane != "" {
		body = lipgloss.JoinHorizontal(lipgloss.Top, boardPane, logPane)
	}

	footer := FooterStyle.Render("Enter: send  Esc: quit  /help: commands")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), footer)
}

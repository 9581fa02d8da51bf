package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/model/event"
	"github.com/zhouzirui/cobuild/backend/internal/service/session"
)

var errQuit = errors.New("quit")

const help = `commands:
  set <attribute> [option]     select an option, or clear it when omitted
  cursor <x> <y>               move your cursor
  focus <attribute>            mark a field as being edited
  blur                         clear your focus
  comment <attribute> <text>   comment on an attribute
  meta title=<t> | description=<d> | model=<id>
  peers                        list active collaborators
  doc                          show the configuration and price
  log                          show recent activity
  quit`

// console drives a session from line-oriented commands.
type console struct {
	sess *session.Session
	out  io.Writer
}

func newConsole(sess *session.Session, out io.Writer) *console {
	return &console{sess: sess, out: out}
}

// Run executes commands from in until EOF, quit or ctx is done.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := c.Exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Exec runs a single command line.
func (c *console) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "set":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: set <attribute> [option]")
		}
		value := ""
		if len(args) == 2 {
			value = args[1]
		}
		if _, err := c.sess.Edit(args[0], value); err != nil {
			return err
		}
		c.printDocument()
	case "cursor":
		if len(args) != 2 {
			return errors.New("usage: cursor <x> <y>")
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid x: %w", err)
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid y: %w", err)
		}
		if !c.sess.MoveCursor(x, y) {
			fmt.Fprintln(c.out, "cursor throttled")
		}
	case "focus":
		if len(args) != 1 {
			return errors.New("usage: focus <attribute>")
		}
		c.sess.Focus(args[0])
	case "blur":
		c.sess.Blur()
	case "comment":
		if len(args) < 2 {
			return errors.New("usage: comment <attribute> <text>")
		}
		comment, err := c.sess.Comment(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "commented on %s (%s)\n", comment.Attribute, comment.ID)
	case "meta":
		meta, err := parseMeta(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "meta")))
		if err != nil {
			return err
		}
		if err := c.sess.UpdateMeta(meta); err != nil {
			return err
		}
	case "peers":
		c.printPeers()
	case "doc":
		c.printDocument()
	case "log":
		for _, entry := range c.sess.Activity() {
			fmt.Fprintln(c.out, entry.String())
		}
	case "help":
		fmt.Fprintln(c.out, help)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

// parseMeta reads "key=value" where value runs to the end of the line.
func parseMeta(arg string) (event.ProjectMeta, error) {
	key, value, ok := strings.Cut(arg, "=")
	if !ok {
		return event.ProjectMeta{}, errors.New("usage: meta title=<t> | description=<d> | model=<id>")
	}
	value = strings.TrimSpace(value)
	var meta event.ProjectMeta
	switch strings.TrimSpace(key) {
	case "title":
		meta.Title = &value
	case "description":
		meta.Description = &value
	case "model":
		meta.Model = &value
	default:
		return event.ProjectMeta{}, fmt.Errorf("unknown meta field %q", key)
	}
	return meta, nil
}

func (c *console) printPeers() {
	peers := c.sess.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "no one else is here")
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOLOR\tCURSOR\tFOCUS\tSEEN")
	for _, p := range peers {
		focus := "-"
		if p.FocusedField != nil {
			focus = *p.FocusedField
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f,%.0f\t%s\t%s\n", p.DisplayName, p.Color, p.X, p.Y, focus, p.LastSeenAt.Format(time.TimeOnly))
	}
	_ = w.Flush()
}

func (c *console) printDocument() {
	model := c.sess.Model()
	doc := c.sess.Document()
	meta := c.sess.Meta()

	if meta.Title != "" {
		fmt.Fprintf(c.out, "%s\n", meta.Title)
	}
	fmt.Fprintf(c.out, "%s %s\n", doc.Brand, doc.ModelName)
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, attr := range model.Attributes {
		value := doc.Selections[attr.Key]
		label := "-"
		if opt, ok := attr.Option(value); ok {
			label = opt.Label
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", attr.Label, label, c.commentSummary(attr.Key))
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "price: %.2f\n", build.Price(model, doc))
	if status := c.sess.Status(); status != "" {
		fmt.Fprintf(c.out, "! %s\n", status)
	}
}

func (c *console) commentSummary(attribute string) string {
	thread := c.sess.Threads()[attribute]
	switch len(thread) {
	case 0:
		return ""
	case 1:
		return "1 comment"
	default:
		authors := map[string]struct{}{}
		for _, comment := range thread {
			authors[comment.Author] = struct{}{}
		}
		names := make([]string, 0, len(authors))
		for name := range authors {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%d comments (%s)", len(thread), strings.Join(names, ", "))
	}
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/inkwell-md/inkwell/internal/config"
	"github.com/inkwell-md/inkwell/internal/filename"
	"github.com/inkwell-md/inkwell/internal/note"
)

var newCmd = &cobra.Command{
	Use:   "new [title...]",
	Short: "Create a note with a dated sort tag",
	Long: `Create a note file named after today's date and the given title,
with a YAML header carrying the title.

A note that would collide with an existing file gets the next free
copy counter appended, so creating "Shopping list" twice on one day
yields "20260830-Shopping list.md" and "20260830-Shopping list(1).md".

Examples:
  inkwell new Shopping list
  inkwell new --dir ~/notes "Meeting minutes"
  inkwell new --title-case project kickoff`,
	RunE: runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringP("dir", "d", ".", "Directory to create the note in")
	newCmd.Flags().Bool("title-case", false, "Title-case the given words")
	newCmd.Flags().Bool("no-tag", false, "Skip the date sort tag")
}

func runNew(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		title = cfg.Note.DefaultTitle
	}
	if tc, _ := cmd.Flags().GetBool("title-case"); tc {
		title = cases.Title(language.Und).String(title)
	}

	scheme := cfg.FilenameScheme()
	c := filename.Components{
		Stem: sanitizeStem(title),
		Ext:  cfg.Note.Extension,
	}
	if noTag, _ := cmd.Flags().GetBool("no-tag"); !noTag {
		c.SortTag = time.Now().Format(cfg.Note.SortTagFormat)
	}

	dir, _ := cmd.Flags().GetString("dir")
	path := filepath.Join(dir, scheme.Shorten(scheme.Assemble(c)))
	path, err = scheme.SetNextUnused(path)
	if err != nil {
		return err
	}

	header, err := yaml.Marshal(&note.FrontMatter{
		Title: title,
		Date:  time.Now().Format("2006-01-02"),
		Lang:  cfg.Note.Lang,
	})
	if err != nil {
		return fmt.Errorf("encoding note header: %w", err)
	}

	content := "---\n" + string(header) + "---\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Println(path)
	return nil
}

// sanitizeStem strips characters that are path separators or outright
// hostile in filenames. The codec handles everything else.
func sanitizeStem(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\r', 0:
			return '_'
		}
		return r
	}, title)
}

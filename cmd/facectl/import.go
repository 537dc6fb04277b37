package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importMode string

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// faceFile is one image to enroll.
type faceFile struct {
	Path  string
	Name  string
	Label string
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll every face image found under a directory",
	Long: `Enroll every face image found under a directory.

Two layouts are understood:

  <dir>/<name>/<label>.jpg   one sub-directory per person, one file per variation
  <dir>/<name>.jpg           one file per person, enrolled with the default label

Underscores in directory and file names become spaces in the person name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := discoverFaces(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No images found.")
			return nil
		}

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)

		var failures []string
		enrolled := 0
		for _, f := range files {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f.Path)
			if err == nil {
				_, err = client.Enroll(cmd.Context(), f.Name, f.Label, importMode, f.Path, data)
			}
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", f.Path, err))
			} else {
				enrolled++
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		fmt.Println()

		fmt.Printf("Enrolled %d of %d images\n", enrolled, len(files))
		for _, f := range failures {
			fmt.Fprintln(os.Stderr, "  failed:", f)
		}
		if enrolled == 0 {
			return errors.New("no image could be enrolled")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importMode, "mode", "append", "append or create")
	rootCmd.AddCommand(importCmd)
}

// discoverFaces lists the images under root in a stable order.
func discoverFaces(root string) ([]faceFile, error) {
	var files []faceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !imageExts[ext] || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		stem := strings.TrimSuffix(parts[len(parts)-1], filepath.Ext(path))

		f := faceFile{Path: path}
		if len(parts) == 1 {
			f.Name = personName(stem)
		} else {
			f.Name = personName(parts[0])
			f.Label = labelFor(stem)
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func personName(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}

// labelFor keeps only label-safe characters of a file stem.
func labelFor(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}

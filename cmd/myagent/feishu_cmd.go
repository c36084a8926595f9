package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"myagent/pkg/config"
	"myagent/pkg/transport/feishu"
	"myagent/pkg/utils"
)

func newFeishuCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feishu",
		Short: "Feishu file utilities",
	}

	var outPath string
	download := &cobra.Command{
		Use:   "download MESSAGE_ID FILE_KEY",
		Short: "Download a file attached to a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return feishuDownload(opts, args[0], args[1], outPath)
		},
	}
	download.Flags().StringVarP(&outPath, "output", "o", "", "destination path (default: derived from content type)")

	var chatID string
	files := &cobra.Command{
		Use:   "files",
		Short: "List files recently sent in a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return feishuFiles(opts, chatID)
		},
	}
	files.Flags().StringVar(&chatID, "chat", "", "chat id to list (required)")
	files.MarkFlagRequired("chat")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "upload FILE",
			Short: "Upload a local file, printing its file_key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return feishuUpload(opts, args[0])
			},
		},
		download,
		files,
	)
	return cmd
}

func feishuCreds(opts *rootOpts) (config.FeishuConfig, error) {
	cfg, err := opts.loadConfigStrict()
	if err != nil {
		return config.FeishuConfig{}, err
	}
	if cfg.Channels.Feishu == nil {
		return config.FeishuConfig{}, fmt.Errorf("feishu is not configured (channels.feishu in settings)")
	}
	return *cfg.Channels.Feishu, nil
}

func feishuUpload(opts *rootOpts, path string) error {
	creds, err := feishuCreds(opts)
	if err != nil {
		return err
	}

	mimeType, _ := utils.SniffFileMime(path)
	api := feishu.NewAPI(creds)
	fileKey, err := api.UploadFile(path, feishuFileType(mimeType, path))
	if err != nil {
		return err
	}
	fmt.Println(fileKey)
	return nil
}

// feishuFileType maps a detected MIME type (or filename extension) to the
// file_type values the im/v1/files endpoint accepts.
func feishuFileType(mimeType, path string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "opus"
	case strings.HasPrefix(mimeType, "video/"):
		return "mp4"
	case mimeType == "application/pdf":
		return "pdf"
	case strings.HasSuffix(path, ".doc"), strings.HasSuffix(path, ".docx"):
		return "doc"
	case strings.HasSuffix(path, ".xls"), strings.HasSuffix(path, ".xlsx"):
		return "xls"
	case strings.HasSuffix(path, ".ppt"), strings.HasSuffix(path, ".pptx"):
		return "ppt"
	default:
		return "stream"
	}
}

func feishuDownload(opts *rootOpts, messageID, fileKey, outPath string) error {
	creds, err := feishuCreds(opts)
	if err != nil {
		return err
	}

	transport := feishu.NewTransport(creds)
	if outPath != "" {
		if _, err := transport.DownloadFileTo(messageID, fileKey, "file", outPath); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", outPath)
		return nil
	}

	data, err := transport.DownloadFileTo(messageID, fileKey, "file", "")
	if err != nil {
		return err
	}
	_, ext := utils.SniffMime(data)
	outPath = utils.StampedFileName(fileKey, ext)
	if _, err := transport.DownloadFileTo(messageID, fileKey, "file", outPath); err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", outPath)
	return nil
}

func feishuFiles(opts *rootOpts, chatID string) error {
	creds, err := feishuCreds(opts)
	if err != nil {
		return err
	}

	api := feishu.NewAPI(creds)
	items, _, _, err := api.ListMessages(chatID, 50, "")
	if err != nil {
		return err
	}

	type messageItem struct {
		MessageID string `json:"message_id"`
		MsgType   string `json:"msg_type"`
		Body      struct {
			Content string `json:"content"`
		} `json:"body"`
	}

	found := 0
	for _, raw := range items {
		var m messageItem
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m.MsgType != "file" && m.MsgType != "image" {
			continue
		}
		var content struct {
			FileKey  string `json:"file_key"`
			FileName string `json:"file_name"`
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(m.Body.Content), &content); err != nil {
			continue
		}
		key := content.FileKey
		if key == "" {
			key = content.ImageKey
		}
		fmt.Printf("%s  %s  %s\n", m.MessageID, key, content.FileName)
		found++
	}
	if found == 0 {
		fmt.Println("No files found")
	}
	return nil
}

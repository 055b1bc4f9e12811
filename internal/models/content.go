package models

// ContentKind 是消息内容变体的判别字段。
type ContentKind string

const (
	TextContent     ContentKind = "text"
	ImageContent    ContentKind = "image"
	FileContent     ContentKind = "file"
	ProfileContent  ContentKind = "profile"  // 分享用户名片
	LocationContent ContentKind = "location" // 分享位置
)

// Content 是消息内容的带标签联合：Kind 决定哪些字段有效。
// 统一用显式判别字段建模，读取方不做运行时类型探测。
type Content struct {
	Kind ContentKind `json:"kind"`

	// Kind == text
	Text string `json:"text,omitempty"`

	// Kind == image / file
	Attachment *Attachment `json:"attachment,omitempty"`

	// Kind == profile
	ProfileUserID uint `json:"profileUserId,omitempty"`

	// Kind == location
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Attachment stores metadata for image and file contents. The media itself
// lives in external storage; only the reference is carried here.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// TextMessage is a convenience constructor for the common case.
func TextMessage(text string) *Content {
	return &Content{Kind: TextContent, Text: text}
}

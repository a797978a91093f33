package uploads

import (
	"bufio"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

const sniffBytes = 3072

var thumbnailExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// sniff detects the content type from the leading bytes and returns a reader that
// still yields the whole stream.
func sniff(r io.Reader) (*mimetype.MIME, io.Reader) {
	br := bufio.NewReaderSize(r, sniffBytes)
	head, _ := br.Peek(sniffBytes)
	return mimetype.Detect(head), br
}

func thumbnailType(mtype *mimetype.MIME) (contentType, ext string, ok bool) {
	for candidate, ext := range thumbnailExtensions {
		if mtype.Is(candidate) {
			return candidate, ext, true
		}
	}
	return "", "", false
}

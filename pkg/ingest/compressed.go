package ingest

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"

	"github.com/cuemby/vigil/pkg/vigilerr"
)

// DecompressGzip reads r as a gzip stream and returns the uncompressed
// bytes.
func DecompressGzip(r io.Reader) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to open gzip stream", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to decompress gzip", err)
	}
	return out, nil
}

// ExtractFirstZipEntry reads the first file in a ZIP archive and returns
// its contents. The archive must fit in memory since archive/zip needs
// io.ReaderAt to locate the central directory.
func ExtractFirstZipEntry(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to open zip archive", err)
	}
	if len(zr.File) == 0 {
		return nil, vigilerr.New(vigilerr.KindUnsupportedFormat, "zip archive is empty")
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to read zip entry", err)
	}
	defer f.Close()

	out, err := io.ReadAll(f)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to read zip file contents", err)
	}
	return out, nil
}

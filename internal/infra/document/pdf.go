package document

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// readPDFPages はページごとのプレーンテキストを返す（空ページは空文字列）
func readPDFPages(path string) (pages []string, err error) {
	defer recoverPDF(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	pages = make([]string, r.NumPage())
	for i := range pages {
		p := r.Page(i + 1)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}

		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, err
		}
		pages[i] = text
	}
	return pages, nil
}

// recoverPDF は壊れた PDF の解析中に起きた panic をエラーに変換する
// ledongthuc/pdf は不正な構造に対してエラーではなく panic することがある
func recoverPDF(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed pdf: %v", r)
	}
}

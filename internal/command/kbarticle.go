package command

import (
	"context"
	"encoding/xml"
	"strconv"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/model"
)

type kbArticleDoc struct {
	XMLName     xml.Name `xml:"kbArticle"`
	Series      string   `xml:"series"`
	Reporter    string   `xml:"reporter"`
	AuthorName  string   `xml:"authorName"`
	AuthorEmail string   `xml:"authorEmail"`
	Title       string   `xml:"title"`
	ErrorMsg    *string  `xml:"errorMsg"`
	ArticleText string   `xml:"articleText"`
}

// KbArticleInsert adds a knowledge-base article. The entry time is the time
// the depot received the command.
type KbArticleInsert struct {
	base
	doc kbArticleDoc
}

func (c *KbArticleInsert) decode() error {
	var doc kbArticleDoc
	if err := xml.Unmarshal(c.payload, &doc); err != nil {
		return invalid(c.kind, "%v", err)
	}
	if doc.Series == "" || doc.Reporter == "" || doc.AuthorName == "" || doc.AuthorEmail == "" || doc.Title == "" || doc.ArticleText == "" {
		return invalid(c.kind, "article needs series, reporter, author, title and text")
	}
	c.doc = doc
	return nil
}

func (c *KbArticleInsert) RestoreState(state []byte) error {
	if err := c.restore(state); err != nil {
		return err
	}
	return c.decode()
}

func (c *KbArticleInsert) Replay(ctx context.Context) error {
	a := model.NewKbArticle(c.env.DB)
	a.Entered.SetValue(c.received)
	a.Series.SetValue(c.doc.Series)
	a.Reporter.SetValue(c.doc.Reporter)
	a.AuthorName.SetValue(c.doc.AuthorName)
	a.AuthorEmail.SetValue(c.doc.AuthorEmail)
	a.Title.SetValue(c.doc.Title)
	setOptional(a.ErrorMsg, c.doc.ErrorMsg)
	a.ArticleText.SetValue(c.doc.ArticleText)
	return errors.Wrap(a.Save(ctx), "inserting knowledge-base article")
}

// KbArticleDelete removes the knowledge-base article whose id is the
// command argument.
type KbArticleDelete struct {
	base
	id int64
}

func (c *KbArticleDelete) decode() error {
	id, err := strconv.ParseInt(c.arg, 10, 64)
	if err != nil || id <= 0 {
		return invalid(c.kind, "bad article id %q", c.arg)
	}
	c.id = id
	return nil
}

func (c *KbArticleDelete) RestoreState(state []byte) error {
	if err := c.restore(state); err != nil {
		return err
	}
	return c.decode()
}

func (c *KbArticleDelete) Replay(ctx context.Context) error {
	a, err := model.ByID(ctx, c.env.DB, c.id, model.NewKbArticle)
	if err != nil {
		return errors.Wrapf(err, "deleting knowledge-base article %d", c.id)
	}
	return errors.Wrapf(a.Delete(ctx), "deleting knowledge-base article %d", c.id)
}

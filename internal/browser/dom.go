package browser

import (
	"time"

	"noema/internal/domain"
)

// domSnapshotScript runs inside the page and returns a JSON-serialisable
// object mirroring domain.DOMSnapshot's bounded shape: at most 50 interactive
// elements, 10 forms, 10 error messages, and a 3000-character body preview.
const domSnapshotScript = `(() => {
	const clamp = (arr, n) => arr.slice(0, n);
	const headings = clamp(Array.from(document.querySelectorAll('h1,h2,h3,h4,h5,h6')), 20)
		.map(h => ({level: parseInt(h.tagName.substring(1), 10), text: (h.textContent || '').trim().slice(0, 200)}));

	const interactive = clamp(Array.from(document.querySelectorAll('a,button,input,select,textarea,[role=button],[onclick]')), 50)
		.map(el => {
			const tag = el.tagName.toLowerCase();
			const id = el.id ? '#' + el.id : '';
			const name = el.getAttribute('name') ? '[name=' + el.getAttribute('name') + ']' : '';
			const text = (el.textContent || el.value || '').trim().slice(0, 60);
			return tag + id + name + (text ? ' "' + text + '"' : '');
		});

	const forms = clamp(Array.from(document.querySelectorAll('form')), 10).map((f, i) => {
		const sel = f.id ? '#' + f.id : 'form:nth-of-type(' + (i + 1) + ')';
		const fields = clamp(Array.from(f.querySelectorAll('input,select,textarea')), 30)
			.map(el => ({name: el.getAttribute('name') || el.id || '', type: el.getAttribute('type') || el.tagName.toLowerCase()}));
		return {selector: sel, fields: fields};
	});

	const errorMessages = clamp(
		Array.from(document.querySelectorAll('.error, .error-message, [role=alert], .alert-danger, .field-error'))
			.map(el => (el.textContent || '').trim())
			.filter(Boolean),
		10
	);

	const meta = document.querySelector('meta[name="description"]');
	const body = (document.body && document.body.innerText || '').trim().slice(0, 3000);

	return {
		title: document.title || '',
		url: window.location.href,
		meta_description: meta ? meta.getAttribute('content') || '' : '',
		headings: headings,
		interactive_elements: interactive,
		forms: forms,
		error_messages: errorMessages,
		body_text_preview: body,
		total_elements: document.querySelectorAll('*').length,
	};
})()`

func parseDOMSnapshot(raw map[string]any) *domain.DOMSnapshot {
	snap := &domain.DOMSnapshot{CapturedAt: time.Now().UTC()}
	if v, ok := raw["title"].(string); ok {
		snap.Title = v
	}
	if v, ok := raw["url"].(string); ok {
		snap.URL = v
	}
	if v, ok := raw["meta_description"].(string); ok {
		snap.MetaDescription = v
	}
	if v, ok := raw["body_text_preview"].(string); ok {
		snap.BodyTextPreview = v
	}
	if v, ok := raw["total_elements"].(float64); ok {
		snap.TotalElements = int(v)
	}
	if arr, ok := raw["headings"].([]any); ok {
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			h := domain.DOMHeading{}
			if lvl, ok := m["level"].(float64); ok {
				h.Level = int(lvl)
			}
			if text, ok := m["text"].(string); ok {
				h.Text = text
			}
			snap.Headings = append(snap.Headings, h)
		}
	}
	if arr, ok := raw["interactive_elements"].([]any); ok {
		for _, item := range arr {
			if s, ok := item.(string); ok {
				snap.InteractiveElements = append(snap.InteractiveElements, s)
			}
		}
	}
	if arr, ok := raw["error_messages"].([]any); ok {
		for _, item := range arr {
			if s, ok := item.(string); ok {
				snap.ErrorMessages = append(snap.ErrorMessages, s)
			}
		}
	}
	if arr, ok := raw["forms"].([]any); ok {
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			form := domain.DOMForm{}
			if sel, ok := m["selector"].(string); ok {
				form.Selector = sel
			}
			if fields, ok := m["fields"].([]any); ok {
				for _, f := range fields {
					fm, ok := f.(map[string]any)
					if !ok {
						continue
					}
					field := domain.DOMFormField{}
					if n, ok := fm["name"].(string); ok {
						field.Name = n
					}
					if t, ok := fm["type"].(string); ok {
						field.Type = t
					}
					form.Fields = append(form.Fields, field)
				}
			}
			snap.Forms = append(snap.Forms, form)
		}
	}
	return snap
}

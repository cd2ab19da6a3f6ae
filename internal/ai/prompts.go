package ai

import (
	"fmt"

	"github.com/mixelka/mailtriage/pkg/models"
)

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func classifyPrompt(email *models.Email) string {
	return fmt.Sprintf(`Analyze this email and classify it into ONE of these categories:

1. AUTO_REPLY: Generic/simple messages that don't need company knowledge or verification.
   Examples: "Thank you", "OK", "Got it", "Noted", "Thanks for the info", simple acknowledgments.

2. RAG_REPLY: Questions about company information, products, policies, FAQs.
   Examples: "What are your business hours?", "How do I return a product?", "What's your refund policy?"

3. PENDING_MANUAL: Critical issues that REQUIRE human attention.
   Examples: Complaints, legal matters, refund requests, urgent issues, angry customers, threats.

4. DRAFT_REVIEW: Questions the AI can answer but should be verified by staff first.
   Examples: Complex product questions, pricing inquiries, partnership requests, custom orders.

EMAIL DETAILS:
From: %s
Subject: %s
Body:
%s

Respond in this exact JSON format:
{
    "category": "AUTO_REPLY" or "RAG_REPLY" or "PENDING_MANUAL" or "DRAFT_REVIEW",
    "confidence": 0.0 to 1.0,
    "reasoning": "Brief explanation of why this category was chosen"
}

Only output the JSON, nothing else.`, email.DisplayName(), email.Subject, truncate(email.Body, 2000))
}

func autoReplyPrompt(email *models.Email) string {
	return fmt.Sprintf(`Generate a brief, polite response to this simple email.
Keep it professional but warm. 1-3 sentences max.

From: %s
Subject: %s
Body: %s

Just write the response body, no subject line or signature.`, email.DisplayName(), email.Subject, truncate(email.Body, 500))
}

func ragReplyPrompt(email *models.Email, ragContext string) string {
	return fmt.Sprintf(`You are a helpful customer service representative.
Use the provided company knowledge to answer the customer's question.
Be professional, accurate, and helpful.

CUSTOMER EMAIL:
From: %s
Subject: %s
Question: %s

COMPANY KNOWLEDGE BASE CONTEXT:
%s

Instructions:
- Answer based ONLY on the provided context
- If the context doesn't contain relevant information, say you'll forward to the appropriate team
- Be concise but complete
- End with an offer to help further

Write only the response body:`, email.DisplayName(), email.Subject, truncate(email.Body, 1500), ragContext)
}

func draftReplyPrompt(email *models.Email, ragContext string) string {
	contextSection := ""
	if ragContext != "" {
		contextSection = fmt.Sprintf("\nAVAILABLE COMPANY INFORMATION:\n%s\n", ragContext)
	}

	return fmt.Sprintf(`Generate a professional response to this customer email.
This will be reviewed by staff before sending, so be thorough but accurate.

CUSTOMER EMAIL:
From: %s
Subject: %s
Body: %s
%s
Instructions:
- Write a complete, professional response
- If you're unsure about specific details, indicate [VERIFY: detail to verify]
- Be helpful and offer to assist further
- Use a professional but friendly tone

Write only the response body:`, email.DisplayName(), email.Subject, truncate(email.Body, 2000), contextSection)
}

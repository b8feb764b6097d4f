package extractor

const systemPrompt = `You read inbound referral messages sent to a home health agency and copy out labeled facts.

Extract only what the message states. Never guess a value that is not written in the message.

Fields:
- patient_name: the patient's full name
- diagnosis: primary diagnosis or reason for referral, as written
- insurance: insurance carrier or payer name (e.g. "Medicare", "Medicaid", "Aetna")
- insurance_id: member, policy or subscriber identifier
- address: street address where care will be delivered
- zip_code: 5-digit ZIP code of that address
- distance: miles from the agency if the message states it, else null
- rating: referring hospital quality rating 1-5 if the message states it, else 0
- episode_days: estimated length of the care episode in days if stated, else 0
- facility: name of the referring hospital or facility

Use an empty string for any text field that is not present.`

const fieldsUserPrompt = `Subject: %s

Message:
---
%s
---

Respond with valid JSON matching this schema:
{
  "patient_name": "string",
  "diagnosis": "string",
  "insurance": "string",
  "insurance_id": "string",
  "address": "string",
  "zip_code": "string",
  "distance": null,
  "rating": 0,
  "episode_days": 0,
  "facility": "string"
}

Return ONLY the JSON object, no markdown fences or other text.`
